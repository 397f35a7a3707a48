package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	planTemplatePath = "/api/v1/plan-templates/default"
	dailyPlanPath    = "/api/v1/daily-plans"
	dateLayout       = "2006-01-02"
)

// PlanTemplate is the immutable catalog of categories and drills. It is
// fetched once and cached for the client lifetime.
type PlanTemplate struct {
	ID         string              `json:"id"`
	Categories map[string]Category `json:"categories,omitempty"`
}

// Category groups drills (for example Back, Neck, Legs).
type Category struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Drills      map[string]Drill `json:"drills,omitempty"`
}

// Drill is one exercise within a category.
type Drill struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	CategoryID       string `json:"categoryId"`
	TargetRepetition int    `json:"targetRepetition,omitempty"`
}

// DailyPlan is the mutable training record for one date.
type DailyPlan struct {
	ID          string                            `json:"id"`
	TemplateID  string                            `json:"templateId,omitempty"`
	Date        string                            `json:"date"`
	SessionID   string                            `json:"sessionId,omitempty"`
	Repetitions map[string]map[string]Achievement `json:"repetitions,omitempty"`
	CreatedAt   time.Time                         `json:"createdAt,omitempty"`
	UpdatedAt   time.Time                         `json:"updatedAt,omitempty"`
}

// Achievement is the per-drill progress: a repetition count (never
// negative) and a free-text note that round-trips with numeric changes.
type Achievement struct {
	Repetition int    `json:"repetition"`
	Note       string `json:"note,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p *DailyPlan) Clone() *DailyPlan {
	if p == nil {
		return nil
	}
	out := *p
	if p.Repetitions != nil {
		out.Repetitions = make(map[string]map[string]Achievement, len(p.Repetitions))
		for cat, drills := range p.Repetitions {
			inner := make(map[string]Achievement, len(drills))
			for drill, ach := range drills {
				inner[drill] = ach
			}
			out.Repetitions[cat] = inner
		}
	}
	return &out
}

// PlanSnapshot is the merged template × daily-record result for one
// displayed date.
type PlanSnapshot struct {
	Template *PlanTemplate
	Daily    *DailyPlan // nil when the date has no record
	Date     string
	Editable bool // only today's plan may be mutated
}

// PlanService keeps a local snapshot of the daily training plan, applies
// optimistic edits, persists them, and reconciles with authoritative
// copies from save responses and live pushes.
type PlanService struct {
	client *Client
	events chan Event
	now    func() time.Time

	mu       sync.Mutex
	template *PlanTemplate
	daily    *DailyPlan
	date     string
}

func newPlanService(client *Client) *PlanService {
	return &PlanService{
		client: client,
		events: make(chan Event, defaultEventBuffer),
		now:    time.Now,
	}
}

// Events yields plan notices and snapshot-changed events. The channel is
// never closed.
func (s *PlanService) Events() <-chan Event {
	return s.events
}

// Daily returns a copy of the current in-memory daily record, or nil.
func (s *PlanService) Daily() *DailyPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daily.Clone()
}

func (s *PlanService) today() string {
	return s.now().UTC().Format(dateLayout)
}

// Template fetches the immutable plan template, caching it for the
// client lifetime. A fetch failure is fatal for the plan view and is not
// retried automatically.
func (s *PlanService) Template(ctx context.Context) (*PlanTemplate, error) {
	s.mu.Lock()
	if s.template != nil {
		tmpl := s.template
		s.mu.Unlock()
		return tmpl, nil
	}
	s.mu.Unlock()

	var tmpl PlanTemplate
	if err := s.getJSON(ctx, s.client.backendURL+planTemplatePath, &tmpl); err != nil {
		return nil, fmt.Errorf("load plan template: %w", err)
	}

	s.mu.Lock()
	s.template = &tmpl
	s.mu.Unlock()
	return &tmpl, nil
}

// Load fetches the plan for a date ("" or "today" for the current day).
// A missing record for today is created through the initiate endpoint;
// any other missing date is returned as a snapshot without data, never
// created. Other failures abort the load.
func (s *PlanService) Load(ctx context.Context, date string) (*PlanSnapshot, error) {
	today := s.today()
	if date == "" || date == "today" {
		date = today
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("load plan: invalid date %q: %w", date, err)
	}
	isToday := date == today

	tmpl, err := s.Template(ctx)
	if err != nil {
		return nil, err
	}

	segment := date
	if isToday {
		segment = "today"
	}
	endpoint := s.client.backendURL + dailyPlanPath + "/" + segment

	var daily *DailyPlan
	var fetched DailyPlan
	err = s.getJSON(ctx, endpoint, &fetched)
	switch {
	case err == nil:
		daily = &fetched
	case isNotFound(err) && isToday:
		daily, err = s.initiate(ctx)
		if err != nil {
			return nil, fmt.Errorf("initiate daily plan: %w", err)
		}
	case isNotFound(err):
		daily = nil
	default:
		return nil, fmt.Errorf("load daily plan: %w", err)
	}

	s.mu.Lock()
	s.date = date
	s.daily = daily
	s.mu.Unlock()

	return &PlanSnapshot{
		Template: tmpl,
		Daily:    daily.Clone(),
		Date:     date,
		Editable: isToday,
	}, nil
}

func (s *PlanService) initiate(ctx context.Context) (*DailyPlan, error) {
	endpoint := s.client.backendURL + dailyPlanPath + "/initiate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if s.client.userEmail != "" {
		req.Header.Set("X-User-Email", s.client.userEmail)
	}
	var plan DailyPlan
	if err := s.do(req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// AdjustDrillReps applies delta to one drill's repetition count, clamped
// at zero. A non-empty note replaces the stored note; an empty note
// keeps it, so numeric-only edits round-trip the existing note intact.
// The mutation is applied optimistically and published before the save;
// on success the authoritative response replaces the local copy. On save
// failure the optimistic value is retained and the error returned.
//
// Edits are rejected locally, with no network call, when the loaded date
// is not today or the template lacks the target drill.
func (s *PlanService) AdjustDrillReps(ctx context.Context, categoryID, drillID string, delta int, note string) (*DailyPlan, error) {
	s.mu.Lock()
	if s.date != s.today() {
		s.mu.Unlock()
		s.publish(NoticeEvent{Level: NoticeInfo, Text: "Modifications are only allowed for today's plan."})
		return nil, ErrReadOnlyDate
	}
	tmpl := s.template
	s.mu.Unlock()

	if tmpl == nil {
		return nil, errors.New("adjust drill: plan not loaded")
	}
	cat, ok := tmpl.Categories[categoryID]
	if !ok {
		return nil, fmt.Errorf("adjust drill %q/%q: %w", categoryID, drillID, ErrCategoryNotFound)
	}
	if _, ok := cat.Drills[drillID]; !ok {
		return nil, fmt.Errorf("adjust drill %q/%q: %w", categoryID, drillID, ErrDrillNotFound)
	}

	s.mu.Lock()
	s.ensureDailyLocked()
	if s.daily.Repetitions[categoryID] == nil {
		s.daily.Repetitions[categoryID] = make(map[string]Achievement)
	}
	ach := s.daily.Repetitions[categoryID][drillID]
	ach.Repetition = clampReps(ach.Repetition + delta)
	if note != "" {
		ach.Note = note
	}
	s.daily.Repetitions[categoryID][drillID] = ach
	optimistic := s.daily.Clone()
	s.mu.Unlock()

	s.publish(PlanEvent{Plan: optimistic, Origin: PlanOriginLocal})

	update := map[string]map[string]Achievement{
		categoryID: {drillID: ach},
	}
	return s.persist(ctx, update)
}

// AdjustCategoryReps applies delta to every drill of a category in one
// update. Notes may carry the current editor content per drill; drills
// missing from notes keep their stored note. An empty category is a
// no-op with no network call.
func (s *PlanService) AdjustCategoryReps(ctx context.Context, categoryID string, delta int, notes map[string]string) (*DailyPlan, error) {
	s.mu.Lock()
	if s.date != s.today() {
		s.mu.Unlock()
		s.publish(NoticeEvent{Level: NoticeInfo, Text: "Modifications are only allowed for today's plan."})
		return nil, ErrReadOnlyDate
	}
	tmpl := s.template
	s.mu.Unlock()

	if tmpl == nil {
		return nil, errors.New("adjust category: plan not loaded")
	}
	cat, ok := tmpl.Categories[categoryID]
	if !ok {
		return nil, fmt.Errorf("adjust category %q: %w", categoryID, ErrCategoryNotFound)
	}
	if len(cat.Drills) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	s.ensureDailyLocked()
	if s.daily.Repetitions[categoryID] == nil {
		s.daily.Repetitions[categoryID] = make(map[string]Achievement)
	}
	update := map[string]map[string]Achievement{categoryID: {}}
	for drillID := range cat.Drills {
		ach := s.daily.Repetitions[categoryID][drillID]
		ach.Repetition = clampReps(ach.Repetition + delta)
		if note, ok := notes[drillID]; ok {
			ach.Note = note
		}
		s.daily.Repetitions[categoryID][drillID] = ach
		update[categoryID][drillID] = ach
	}
	optimistic := s.daily.Clone()
	s.mu.Unlock()

	s.publish(PlanEvent{Plan: optimistic, Origin: PlanOriginLocal})
	return s.persist(ctx, update)
}

// ensureDailyLocked makes sure an editable record exists for today.
// Callers must hold s.mu.
func (s *PlanService) ensureDailyLocked() {
	if s.daily == nil {
		now := s.now().UTC()
		templateID := "default"
		if s.template != nil && s.template.ID != "" {
			templateID = s.template.ID
		}
		s.daily = &DailyPlan{
			ID:         s.date + "-temp",
			TemplateID: templateID,
			Date:       s.date,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	if s.daily.Repetitions == nil {
		s.daily.Repetitions = make(map[string]map[string]Achievement)
	}
	for cat := range s.daily.Repetitions {
		if s.daily.Repetitions[cat] == nil {
			s.daily.Repetitions[cat] = make(map[string]Achievement)
		}
	}
}

// persist saves a partial repetition update for today and reconciles the
// local copy with the authoritative response. On failure the optimistic
// local state is left in place (known consistency gap, by product
// decision) and an error notice is published.
func (s *PlanService) persist(ctx context.Context, update map[string]map[string]Achievement) (*DailyPlan, error) {
	payload := struct {
		Repetitions map[string]map[string]Achievement `json:"repetitions"`
	}{Repetitions: update}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := s.client.backendURL + dailyPlanPath + "/today?source=" + s.client.source
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.client.userEmail != "" {
		req.Header.Set("X-User-Email", s.client.userEmail)
	}

	var saved DailyPlan
	if err := s.do(req, &saved); err != nil {
		s.publish(NoticeEvent{Level: NoticeError, Text: fmt.Sprintf("Error saving update: %v", err)})
		return nil, fmt.Errorf("save plan update: %w", err)
	}

	s.mu.Lock()
	s.daily = &saved
	authoritative := s.daily.Clone()
	s.mu.Unlock()

	s.publish(PlanEvent{Plan: authoritative, Origin: PlanOriginServer})
	s.publish(NoticeEvent{Level: NoticeSuccess, Text: "Plan updated successfully."})
	return authoritative, nil
}

// applyPush replaces the local record wholesale with a pushed copy; this
// is how edits from another client become visible.
func (s *PlanService) applyPush(plan *DailyPlan) {
	s.mu.Lock()
	s.daily = plan
	snapshot := plan.Clone()
	s.mu.Unlock()

	s.publish(NoticeEvent{Level: NoticeInfo, Text: "Your plan has been updated in real-time!"})
	s.publish(PlanEvent{Plan: snapshot, Origin: PlanOriginPush})
}

func (s *PlanService) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if s.client.userEmail != "" {
		req.Header.Set("X-User-Email", s.client.userEmail)
	}
	return s.do(req, out)
}

func (s *PlanService) do(req *http.Request, out any) error {
	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			URL:        req.URL.String(),
			Message:    readErrorMessage(resp.Body),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 1<<16)).Decode(&body); err != nil {
		return ""
	}
	return body.Error
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func clampReps(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func (s *PlanService) publish(event Event) {
	select {
	case s.events <- event:
	default:
	}
}
