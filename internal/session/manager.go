package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/browser"
	"github.com/sells-group/carrier-scraper/internal/carrier"
	"github.com/sells-group/carrier-scraper/internal/model"
	"github.com/sells-group/carrier-scraper/internal/normalize"
	"github.com/sells-group/carrier-scraper/internal/portal"
	"github.com/sells-group/carrier-scraper/internal/store"
)

// LoginTimedOut is recorded on sessions failed by ExpireLogins.
const LoginTimedOut = "Login timed out"

var errStopped = apperr.New(apperr.InvalidState, "session stopped")

// Browsers acquires and releases remote browser profiles.
type Browsers interface {
	Acquire(ctx context.Context, profileID string) (*browser.Handle, error)
	Connect(ctx context.Context, h *browser.Handle) (portal.Page, error)
	Release(ctx context.Context, h *browser.Handle)
}

// Portal performs the portal interactions of a scrape.
type Portal interface {
	Login(ctx context.Context, page portal.Page, cfg model.ScraperConfig) (portal.LoginOutcome, error)
	Open(ctx context.Context, page portal.Page, cfg model.ScraperConfig) error
	ExtractPage(ctx context.Context, page portal.Page, cfg model.ScraperConfig) ([]model.RawRow, error)
	HasNextPage(ctx context.Context, page portal.Page, cfg model.ScraperConfig, pageNum int) (bool, error)
	GoToNextPage(ctx context.Context, page portal.Page, cfg model.ScraperConfig) error
	Pause(ctx context.Context, cfg model.ScraperConfig) error
}

// Carriers resolves a carrier's portal configuration.
type Carriers interface {
	Get(name string) (carrier.Carrier, error)
}

// Deps are the Manager's collaborators.
type Deps struct {
	Store     store.Store
	Carriers  Carriers
	Browsers  Browsers
	Portal    Portal
	Canceller Canceller
}

// Config tunes the Manager.
type Config struct {
	DefaultCarrier string
	LoginTimeout   time.Duration
	// MaxPagesCap bounds carriers whose max_pages is unset.
	MaxPagesCap int
	// MaxExtractionFailures is the number of consecutive extraction
	// failures that abort a scrape.
	MaxExtractionFailures int
}

func (c Config) withDefaults() Config {
	if c.DefaultCarrier == "" {
		c.DefaultCarrier = "GTL"
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 30 * time.Minute
	}
	if c.MaxPagesCap <= 0 {
		c.MaxPagesCap = 500
	}
	if c.MaxExtractionFailures <= 0 {
		c.MaxExtractionFailures = 2
	}
	return c
}

// StartRequest asks for a new session.
type StartRequest struct {
	JobName     string
	Carrier     string
	RequestedBy string
}

// StartResult identifies a started session.
type StartResult struct {
	SessionID string              `json:"session_id"`
	JobID     string              `json:"job_id"`
	Status    model.SessionStatus `json:"status"`
	Message   string              `json:"message"`
}

// live is the in-process state of one session. mu serializes its
// transitions; handle and page are owned by whoever holds mu.
type live struct {
	mu      sync.Mutex
	cfg     *model.ScraperConfig
	handle  *browser.Handle
	page    portal.Page
	stopped bool
	running bool
}

// takeHandle detaches the browser handle. Callers hold l.mu.
func (l *live) takeHandle() *browser.Handle {
	h := l.handle
	l.handle, l.page = nil, nil
	return h
}

// Manager owns session lifecycles and their background scrapes.
type Manager struct {
	store     store.Store
	carriers  Carriers
	browsers  Browsers
	portal    Portal
	canceller Canceller
	cfg       Config
	now       func() time.Time

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*live
}

// NewManager creates a Manager. A nil Canceller defaults to a MemoryCanceller.
func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Canceller == nil {
		deps.Canceller = NewMemoryCanceller()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     deps.Store,
		carriers:  deps.Carriers,
		browsers:  deps.Browsers,
		portal:    deps.Portal,
		canceller: deps.Canceller,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		baseCtx:   ctx,
		cancelAll: cancel,
		sessions:  make(map[string]*live),
	}
}

func (m *Manager) entry(id string) *live {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.sessions[id]
	if !ok {
		l = &live{}
		m.sessions[id] = l
	}
	return l
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Start creates a job and session for a carrier. Automatic-login carriers get
// a browser and a login attempt now; manual carriers are left for an operator.
// Either way the session ends in waiting_for_login, or failed. A session that
// fails after creation is returned with status failed alongside the error.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	name := strings.TrimSpace(req.JobName)
	if name == "" {
		return nil, apperr.New(apperr.Validation, "job_name is required")
	}
	carrierName := req.Carrier
	if strings.TrimSpace(carrierName) == "" {
		carrierName = m.cfg.DefaultCarrier
	}
	c, err := m.carriers.Get(carrierName)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "resolve carrier")
	}
	cfg := c.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	job, err := m.store.CreateJob(ctx, name, req.RequestedBy, cfg)
	if err != nil {
		return nil, err
	}
	sess, err := m.store.CreateSession(ctx, job.ID)
	if err != nil {
		m.failJob(ctx, job.ID, err.Error())
		return nil, err
	}

	log := zap.L().With(zap.String("session_id", sess.ID), zap.String("carrier", cfg.Carrier))
	l := m.entry(sess.ID)
	l.mu.Lock()
	l.cfg = &cfg
	l.mu.Unlock()

	message := "Session started. Log in to the " + cfg.Carrier + " portal in the browser profile, then confirm ready."
	if cfg.Mode() == model.LoginAutomatic {
		if err := m.prepareBrowser(ctx, sess.ID, l, cfg); err != nil {
			log.Error("session: preparation failed", zap.Error(err))
			m.abort(ctx, sess.ID, job.ID, l, err.Error())
			return failedStart(sess.ID, job.ID, err), err
		}
		message = "Login submitted for " + cfg.Carrier + ". Confirm ready once the policy list is reachable."
	}

	deadline := m.now().Add(m.cfg.LoginTimeout)
	if err := m.store.UpdateSession(ctx, sess.ID, model.SessionUpdate{
		Status:        model.Ptr(model.SessionWaitingForLogin),
		LoginDeadline: &deadline,
	}); err != nil {
		m.abort(ctx, sess.ID, job.ID, l, err.Error())
		return failedStart(sess.ID, job.ID, err), err
	}

	log.Info("session: waiting for login", zap.Time("login_deadline", deadline))
	return &StartResult{
		SessionID: sess.ID,
		JobID:     job.ID,
		Status:    model.SessionWaitingForLogin,
		Message:   message,
	}, nil
}

// failedStart identifies a session that was created and then failed, so the
// caller can still poll it.
func failedStart(sessionID, jobID string, err error) *StartResult {
	return &StartResult{
		SessionID: sessionID,
		JobID:     jobID,
		Status:    model.SessionFailed,
		Message:   err.Error(),
	}
}

// abort fails a session that never reached the page loop.
func (m *Manager) abort(ctx context.Context, sessionID, jobID string, l *live, msg string) {
	l.mu.Lock()
	m.fail(ctx, sessionID, jobID, l, msg)
	l.mu.Unlock()
	m.forget(sessionID)
}

func (m *Manager) prepareBrowser(ctx context.Context, sessionID string, l *live, cfg model.ScraperConfig) error {
	page, err := m.ensurePage(ctx, sessionID, l, cfg)
	if err != nil {
		return err
	}
	_, err = m.portal.Login(ctx, page, cfg)
	return err
}

// ensurePage returns the session's page, acquiring and connecting a browser
// when none is held. l.mu is not held across provider calls so Stop stays
// responsive; a session stopped meanwhile gets its new handle released.
func (m *Manager) ensurePage(ctx context.Context, sessionID string, l *live, cfg model.ScraperConfig) (portal.Page, error) {
	l.mu.Lock()
	page, h := l.page, l.handle
	l.mu.Unlock()
	if page != nil {
		return page, nil
	}

	if h == nil {
		acquired, err := m.browsers.Acquire(ctx, cfg.ProfileID)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			m.browsers.Release(ctx, acquired)
			return nil, errStopped
		}
		l.handle = acquired
		l.mu.Unlock()
		h = acquired

		if err := m.store.UpdateSession(ctx, sessionID, model.SessionUpdate{BrowserEndpoint: &h.Endpoint}); err != nil {
			zap.L().Warn("session: record browser endpoint", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	page, err := m.browsers.Connect(ctx, h)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil, errStopped
	}
	l.page = page
	return page, nil
}

// forgetIdle drops the in-process entry of a session that holds nothing.
func (m *Manager) forgetIdle(sessionID string, l *live) {
	l.mu.Lock()
	idle := !l.running && l.handle == nil && l.cfg == nil
	l.mu.Unlock()
	if idle {
		m.forget(sessionID)
	}
}

// ConfirmReady marks the operator login as done. It is a no-op on a session
// that is already ready.
func (m *Manager) ConfirmReady(ctx context.Context, sessionID string) error {
	l := m.entry(sessionID)
	defer m.forgetIdle(sessionID, l)
	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Status == model.SessionReady {
		return nil
	}
	if err := checkTransition(s.Status, model.SessionReady); err != nil {
		return err
	}
	if err := m.store.UpdateSession(ctx, sessionID, model.SessionUpdate{Status: model.Ptr(model.SessionReady)}); err != nil {
		return err
	}
	zap.L().Info("session: ready", zap.String("session_id", sessionID))
	return nil
}

// Scrape moves a ready session to scraping and runs the page loop in the
// background. It is a no-op on a session that is already scraping.
func (m *Manager) Scrape(ctx context.Context, sessionID string) error {
	l := m.entry(sessionID)
	defer m.forgetIdle(sessionID, l)
	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Status == model.SessionScraping {
		return nil
	}
	if err := checkTransition(s.Status, model.SessionScraping); err != nil {
		return err
	}
	if s.Job == nil {
		return apperr.New(apperr.NotFound, "job not found for session "+sessionID)
	}
	cfg := m.runtimeConfig(l, s.Job)

	if err := m.canceller.Clear(ctx, sessionID); err != nil {
		zap.L().Warn("session: clear cancel flag", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := m.store.UpdateSession(ctx, sessionID, model.SessionUpdate{Status: model.Ptr(model.SessionScraping)}); err != nil {
		return err
	}
	started := m.now()
	if err := m.store.UpdateJob(ctx, s.JobID, model.JobUpdate{
		Status:    model.Ptr(model.JobStatusInProgress),
		StartedAt: &started,
	}); err != nil {
		return err
	}

	l.running = true
	m.wg.Add(1)
	go m.run(m.baseCtx, sessionID, s.JobID, cfg, l)

	zap.L().Info("session: scrape started", zap.String("session_id", sessionID), zap.String("carrier", cfg.Carrier))
	return nil
}

// runtimeConfig returns the config for a scrape. Stored job configs carry no
// password, so it is taken from the registry when the session was not
// started by this process.
func (m *Manager) runtimeConfig(l *live, job *model.Job) model.ScraperConfig {
	if l.cfg != nil {
		return *l.cfg
	}
	cfg := job.Config
	if c, err := m.carriers.Get(job.Carrier); err == nil {
		cfg.Password = c.Config.Password
	}
	return cfg
}

func (m *Manager) run(ctx context.Context, sessionID, jobID string, cfg model.ScraperConfig, l *live) {
	defer m.wg.Done()
	log := zap.L().With(zap.String("session_id", sessionID), zap.String("carrier", cfg.Carrier))

	defer func() {
		l.mu.Lock()
		h := l.takeHandle()
		l.running = false
		l.mu.Unlock()
		m.browsers.Release(ctx, h)
		if err := m.canceller.Clear(context.WithoutCancel(ctx), sessionID); err != nil {
			log.Warn("session: clear cancel flag", zap.Error(err))
		}
		m.forget(sessionID)
	}()

	page, err := m.ensurePage(ctx, sessionID, l, cfg)
	if err != nil {
		m.finishFailed(ctx, sessionID, jobID, l, err)
		return
	}
	if err := m.portal.Open(ctx, page, cfg); err != nil {
		m.finishFailed(ctx, sessionID, jobID, l, err)
		return
	}

	var (
		pageNum  int
		total    int
		failures int
		lastErr  error
	)
	for {
		if m.cancelled(ctx, sessionID, l) {
			log.Info("session: scrape cancelled", zap.Int("page", pageNum))
			return
		}
		pageNum++

		rows, err := m.portal.ExtractPage(ctx, page, cfg)
		switch {
		case err == nil:
			failures, lastErr = 0, nil
			if err := m.savePage(ctx, sessionID, jobID, pageNum, rows); err != nil {
				m.finishFailed(ctx, sessionID, jobID, l, err)
				return
			}
			total += len(rows)
		case apperr.Is(err, apperr.Extraction):
			failures++
			lastErr = err
			if failures >= m.cfg.MaxExtractionFailures {
				m.finishFailed(ctx, sessionID, jobID, l, err)
				return
			}
			log.Warn("session: page skipped", zap.Int("page", pageNum), zap.Error(err))
		default:
			m.finishFailed(ctx, sessionID, jobID, l, err)
			return
		}

		if !m.progress(ctx, sessionID, jobID, l, pageNum, total) {
			return
		}

		more, err := m.portal.HasNextPage(ctx, page, cfg, pageNum)
		if err != nil {
			m.finishFailed(ctx, sessionID, jobID, l, err)
			return
		}
		if cfg.MaxPages == 0 && pageNum >= m.cfg.MaxPagesCap {
			more = false
		}
		if !more {
			break
		}
		if err := m.portal.Pause(ctx, cfg); err != nil {
			m.finishFailed(ctx, sessionID, jobID, l, err)
			return
		}
		if m.cancelled(ctx, sessionID, l) {
			log.Info("session: scrape cancelled", zap.Int("page", pageNum))
			return
		}
		if err := m.portal.GoToNextPage(ctx, page, cfg); err != nil {
			m.finishFailed(ctx, sessionID, jobID, l, err)
			return
		}
	}

	if lastErr != nil {
		m.finishFailed(ctx, sessionID, jobID, l, lastErr)
		return
	}
	m.finishCompleted(ctx, sessionID, jobID, l, pageNum, total)
	log.Info("session: scrape completed", zap.Int("pages", pageNum), zap.Int("records", total))
}

// savePage normalizes and upserts one page of rows. Rows without a policy
// number and repeated policy numbers still count as extracted; they are
// logged so portal-side gaps stay visible.
func (m *Manager) savePage(ctx context.Context, sessionID, jobID string, pageNum int, rows []model.RawRow) error {
	at := m.now().UTC()
	records := make([]model.PolicyRecord, 0, len(rows))
	for _, raw := range rows {
		if rec, ok := normalize.Policy(jobID, raw, at); ok {
			records = append(records, rec)
		}
	}
	saved, err := m.store.UpsertPolicies(ctx, jobID, records)
	if err != nil {
		return err
	}
	if missing, merged := len(rows)-len(records), len(records)-saved; missing > 0 || merged > 0 {
		zap.L().Warn("session: page rows not stored individually",
			zap.String("session_id", sessionID),
			zap.Int("page", pageNum),
			zap.Int("extracted", len(rows)),
			zap.Int("missing_policy_number", missing),
			zap.Int("duplicate_policy_number", merged),
		)
	}
	return nil
}

// progress records per-page counters. It returns false when the session was
// stopped meanwhile.
func (m *Manager) progress(ctx context.Context, sessionID, jobID string, l *live, pageNum, total int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	bg := context.WithoutCancel(ctx)
	if err := m.store.UpdateSession(bg, sessionID, model.SessionUpdate{
		CurrentPage:  &pageNum,
		ScrapedCount: &total,
	}); err != nil {
		zap.L().Warn("session: record progress", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := m.store.UpdateJob(bg, jobID, model.JobUpdate{ScrapedRecords: &total}); err != nil {
		zap.L().Warn("session: record job progress", zap.String("job_id", jobID), zap.Error(err))
	}
	return true
}

func (m *Manager) cancelled(ctx context.Context, sessionID string, l *live) bool {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return true
	}
	flag, err := m.canceller.Cancelled(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		zap.L().Warn("session: read cancel flag", zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	return flag
}

func (m *Manager) finishCompleted(ctx context.Context, sessionID, jobID string, l *live, pages, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	bg := context.WithoutCancel(ctx)
	done := m.now()
	if err := m.store.UpdateSession(bg, sessionID, model.SessionUpdate{
		Status:       model.Ptr(model.SessionCompleted),
		CurrentPage:  &pages,
		TotalPages:   &pages,
		ScrapedCount: &total,
	}); err != nil {
		zap.L().Error("session: record completion", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := m.store.UpdateJob(bg, jobID, model.JobUpdate{
		Status:         model.Ptr(model.JobStatusCompleted),
		TotalRecords:   &total,
		ScrapedRecords: &total,
		CompletedAt:    &done,
	}); err != nil {
		zap.L().Error("session: record job completion", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (m *Manager) finishFailed(ctx context.Context, sessionID, jobID string, l *live, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	msg := cause.Error()
	if ctx.Err() != nil {
		msg = "Scrape interrupted by shutdown: " + msg
	}
	zap.L().Error("session: scrape failed", zap.String("session_id", sessionID), zap.Error(cause))
	m.fail(ctx, sessionID, jobID, l, msg)
}

// fail records a terminal failure on the session and its job and releases
// any held browser. Callers hold l.mu.
func (m *Manager) fail(ctx context.Context, sessionID, jobID string, l *live, msg string) {
	bg := context.WithoutCancel(ctx)
	l.stopped = true
	if err := m.store.UpdateSession(bg, sessionID, model.SessionUpdate{
		Status:       model.Ptr(model.SessionFailed),
		ErrorMessage: &msg,
	}); err != nil {
		zap.L().Error("session: record failure", zap.String("session_id", sessionID), zap.Error(err))
	}
	m.failJob(bg, jobID, msg)
	m.browsers.Release(bg, l.takeHandle())
}

func (m *Manager) failJob(ctx context.Context, jobID, msg string) {
	done := m.now()
	if err := m.store.UpdateJob(context.WithoutCancel(ctx), jobID, model.JobUpdate{
		Status:       model.Ptr(model.JobStatusFailed),
		ErrorMessage: &msg,
		CompletedAt:  &done,
	}); err != nil {
		zap.L().Error("session: record job failure", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Status returns the session joined with its job.
func (m *Manager) Status(ctx context.Context, sessionID string) (*model.SessionWithJob, error) {
	return m.store.GetSession(ctx, sessionID)
}

// Stop fails a non-terminal session with StoppedByUser. A running scrape
// observes the flag before its next page.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	l := m.entry(sessionID)
	l.mu.Lock()

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if s.Status.Terminal() {
		l.mu.Unlock()
		return apperr.New(apperr.InvalidState, "session already "+string(s.Status))
	}
	if err := m.canceller.Cancel(ctx, sessionID); err != nil {
		zap.L().Warn("session: raise cancel flag", zap.String("session_id", sessionID), zap.Error(err))
	}
	m.fail(ctx, sessionID, s.JobID, l, model.StoppedByUser)
	running := l.running
	l.mu.Unlock()

	// Only a scraping session can have a loop, here or on another instance,
	// that still needs to see the flag.
	if s.Status != model.SessionScraping {
		if err := m.canceller.Clear(ctx, sessionID); err != nil {
			zap.L().Warn("session: clear cancel flag", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	if !running {
		m.forget(sessionID)
	}
	zap.L().Info("session: stopped", zap.String("session_id", sessionID), zap.String("from", string(s.Status)))
	return nil
}

// ExpireLogins fails sessions left in waiting_for_login past their deadline
// and returns how many were failed.
func (m *Manager) ExpireLogins(ctx context.Context) (int, error) {
	now := m.now()
	waiting, err := m.store.ListSessions(ctx, store.SessionFilter{
		Status: model.SessionWaitingForLogin,
		Limit:  1000,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, s := range waiting {
		deadline := s.UpdatedAt.Add(m.cfg.LoginTimeout)
		if s.LoginDeadline != nil {
			deadline = *s.LoginDeadline
		}
		if now.Before(deadline) {
			continue
		}
		if m.expire(ctx, s.ID) {
			expired++
		}
	}
	return expired, nil
}

func (m *Manager) expire(ctx context.Context, sessionID string) bool {
	l := m.entry(sessionID)
	l.mu.Lock()
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil || s.Status != model.SessionWaitingForLogin {
		l.mu.Unlock()
		m.forgetIdle(sessionID, l)
		return false
	}
	zap.L().Warn("session: login timed out", zap.String("session_id", sessionID))
	m.fail(ctx, sessionID, s.JobID, l, LoginTimedOut)
	l.mu.Unlock()
	m.forget(sessionID)
	return true
}

// Wait blocks until every background scrape has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown interrupts running scrapes, waits for them up to ctx's deadline
// and releases browsers still held by idle sessions.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancelAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	held := make([]*live, 0, len(m.sessions))
	for _, l := range m.sessions {
		held = append(held, l)
	}
	m.sessions = make(map[string]*live)
	m.mu.Unlock()

	for _, l := range held {
		l.mu.Lock()
		h := l.takeHandle()
		l.mu.Unlock()
		m.browsers.Release(ctx, h)
	}
	return nil
}
