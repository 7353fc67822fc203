// Package dispatch drives campaigns: it decides when each campaign may send, picks the next
// lead and sends one email per tick.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pysugar/outreach-nexus/internal/auth/token"
	"github.com/pysugar/outreach-nexus/internal/db"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/lifecycle"
	"github.com/pysugar/outreach-nexus/internal/logging"
	"github.com/pysugar/outreach-nexus/internal/mailer"
	"github.com/pysugar/outreach-nexus/internal/notify"
	"github.com/pysugar/outreach-nexus/internal/quota"
	"github.com/pysugar/outreach-nexus/internal/schedule"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoAccount       = errors.New("campaign has no mailbox account assigned")
	ErrAccountInactive = errors.New("mailbox account must be reconnected")
	ErrNoTemplate      = errors.New("campaign has no email template")
)

// Config tunes the coordinator. Zero values pick defaults.
type Config struct {
	Workers        int           `yaml:"workers" env:"WORKERS"`
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	IdleRecheck    time.Duration `yaml:"idle_recheck" env:"IDLE_RECHECK"`
	ConfigRecheck  time.Duration `yaml:"config_recheck" env:"CONFIG_RECHECK"`
	ResyncInterval time.Duration `yaml:"resync_interval" env:"RESYNC_INTERVAL"`
	SendTimeout    time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`
}

// DefaultConfig returns the default coordinator settings.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		MaxAttempts:    3,
		RetryBackoff:   5 * time.Minute,
		IdleRecheck:    5 * time.Minute,
		ConfigRecheck:  15 * time.Minute,
		ResyncInterval: time.Minute,
		SendTimeout:    30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.IdleRecheck <= 0 {
		c.IdleRecheck = d.IdleRecheck
	}
	if c.ConfigRecheck <= 0 {
		c.ConfigRecheck = d.ConfigRecheck
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = d.ResyncInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	return c
}

// Store is the persistence the coordinator works against.
type Store interface {
	lifecycle.Repository

	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaignIDsByStatus(ctx context.Context, status models.CampaignStatus) ([]string, error)
	ListCampaignIDsByAccount(ctx context.Context, accountID string) ([]string, error)
	SetCampaignStatus(ctx context.Context, id string, status models.CampaignStatus) error
	MarkCampaignDispatched(ctx context.Context, id string, at time.Time) error
	GetTemplate(ctx context.Context, campaignID string) (*models.EmailTemplate, error)

	GetAccount(ctx context.Context, id string) (*models.MailboxAccount, error)

	NextEligibleLead(ctx context.Context, campaignID string) (*models.Lead, error)
	CountOpenLeads(ctx context.Context, campaignID string) (pending, review int64, err error)
	ListLeadIDsByStatus(ctx context.Context, campaignID string, status models.LeadStatus) ([]string, error)
	RecordDispatchFailure(ctx context.Context, id, reason string, maxAttempts int) (attempts int, needsReview bool, err error)

	CreateMessage(ctx context.Context, msg *models.EmailMessage) error
	FindMessageByIdempotencyKey(ctx context.Context, key string) (*models.EmailMessage, error)
}

// Credentials hands out valid access tokens.
type Credentials interface {
	GetValidToken(ctx context.Context, accountID string) (*token.CachedToken, error)
	ForceRefresh(ctx context.Context, accountID string) (*token.CachedToken, error)
}

// QuotaTracker reserves daily send slots.
type QuotaTracker interface {
	ReserveSlot(ctx context.Context, accountID string, today quota.Day) (*quota.Reservation, error)
	Today(now time.Time) quota.Day
	NextReset(now time.Time) time.Time
}

// Coordinator runs one logical task per active campaign on a shared worker pool. Campaigns
// sleep in a wake-up queue until their next eligible instant instead of being polled.
type Coordinator struct {
	store    Store
	quota    QuotaTracker
	creds    Credentials
	sender   mailer.Sender
	notifier notify.Notifier
	machine  *lifecycle.Machine
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	wakes    *wakeSchedule
	inFlight map[string]bool
	rerun    map[string]bool
	stopped  map[string]bool
	noticed  map[string]string
	// forced holds accounts whose token was force-refreshed after a rejection and has not
	// sent successfully since.
	forced map[string]bool
	signal chan struct{}
}

// New creates a coordinator.
func New(store Store, tracker QuotaTracker, creds Credentials, sender mailer.Sender, notifier notify.Notifier, cfg Config) *Coordinator {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Coordinator{
		store:    store,
		quota:    tracker,
		creds:    creds,
		sender:   sender,
		notifier: notifier,
		machine:  lifecycle.NewMachine(store),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		wakes:    newWakeSchedule(),
		inFlight: make(map[string]bool),
		rerun:    make(map[string]bool),
		stopped:  make(map[string]bool),
		noticed:  make(map[string]string),
		forced:   make(map[string]bool),
		signal:   make(chan struct{}, 1),
	}
}

// Machine exposes the lead state machine used for dispatch transitions.
func (c *Coordinator) Machine() *lifecycle.Machine {
	return c.machine
}

// Run schedules every active campaign and dispatches until ctx is cancelled. Ticks that are
// already sending finish before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.resync(ctx); err != nil {
		logging.Error(ctx).Err(err).Msg("initial campaign sync failed")
	}
	logging.Info(ctx).Int("workers", c.cfg.Workers).Msg("dispatch coordinator started")

	work := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			c.worker(gctx, work)
			return nil
		})
	}
	g.Go(func() error {
		defer close(work)
		return c.loop(gctx, work)
	})
	err := g.Wait()
	logging.Info(ctx).Msg("dispatch coordinator stopped")
	return err
}

func (c *Coordinator) loop(ctx context.Context, work chan<- string) error {
	resync := time.NewTicker(c.cfg.ResyncInterval)
	defer resync.Stop()
	timer := time.NewTimer(c.cfg.ResyncInterval)
	defer timer.Stop()

	for {
		c.mu.Lock()
		var ready []string
		for _, id := range c.wakes.popDue(c.now()) {
			if c.inFlight[id] {
				c.rerun[id] = true
				continue
			}
			c.inFlight[id] = true
			ready = append(ready, id)
		}
		next, pending := c.wakes.next()
		c.mu.Unlock()

		for _, id := range ready {
			select {
			case work <- id:
			case <-ctx.Done():
				return nil
			}
		}

		wait := c.cfg.ResyncInterval
		if pending {
			if d := next.Sub(c.now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return nil
		case <-c.signal:
		case <-timer.C:
		case <-resync.C:
			if err := c.resync(ctx); err != nil {
				logging.Error(ctx).Err(err).Msg("campaign sync failed")
			}
		}
	}
}

func (c *Coordinator) worker(ctx context.Context, work <-chan string) {
	for id := range work {
		// A started tick runs to completion so a sent email is always recorded.
		next := c.Tick(context.WithoutCancel(ctx), id)
		c.finish(id, next)
	}
}

func (c *Coordinator) finish(campaignID string, next time.Time) {
	c.mu.Lock()
	delete(c.inFlight, campaignID)
	switch {
	case c.rerun[campaignID]:
		delete(c.rerun, campaignID)
		c.wakes.set(campaignID, c.now(), false)
	case !next.IsZero() && !c.stopped[campaignID]:
		c.wakes.set(campaignID, next, false)
	}
	c.mu.Unlock()
	c.poke()
}

func (c *Coordinator) poke() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// resync picks up active campaigns that have no pending wake-up, e.g. activated by another process.
func (c *Coordinator) resync(ctx context.Context) error {
	ids, err := c.store.ListCampaignIDsByStatus(ctx, models.CampaignActive)
	if err != nil {
		return err
	}
	now := c.now()
	c.mu.Lock()
	for _, id := range ids {
		if c.inFlight[id] || c.stopped[id] || c.wakes.has(id) {
			continue
		}
		c.wakes.set(id, now, false)
	}
	c.mu.Unlock()
	c.poke()
	return nil
}

// Wake makes a campaign run as soon as a worker is free.
func (c *Coordinator) Wake(campaignID string) {
	c.mu.Lock()
	if c.inFlight[campaignID] {
		c.rerun[campaignID] = true
	} else {
		c.wakes.set(campaignID, c.now(), false)
	}
	c.mu.Unlock()
	c.poke()
}

// WakeAccount wakes every campaign that sends from accountID, e.g. after it was reconnected.
func (c *Coordinator) WakeAccount(ctx context.Context, accountID string) error {
	ids, err := c.store.ListCampaignIDsByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	c.setForced(accountID, false)
	for _, id := range ids {
		c.clearNotice(id)
		c.Wake(id)
	}
	return nil
}

// NextWake returns the pending wake-up of a campaign.
func (c *Coordinator) NextWake(campaignID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wakes.when(campaignID)
}

// Activate validates a campaign, marks it active, schedules its new leads and wakes it.
func (c *Coordinator) Activate(ctx context.Context, campaignID string) error {
	ctx = logging.WithCampaign(ctx, campaignID)
	camp, err := c.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if err := schedule.Validate(camp); err != nil {
		return err
	}
	if camp.EmailAccountID == nil || *camp.EmailAccountID == "" {
		return ErrNoAccount
	}
	account, err := c.store.GetAccount(ctx, *camp.EmailAccountID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrNoAccount
		}
		return err
	}
	if !account.IsActive {
		return fmt.Errorf("%w: %s", ErrAccountInactive, account.Email)
	}
	if _, err := c.store.GetTemplate(ctx, campaignID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrNoTemplate
		}
		return err
	}

	if err := c.store.SetCampaignStatus(ctx, campaignID, models.CampaignActive); err != nil {
		return err
	}
	ids, err := c.store.ListLeadIDsByStatus(ctx, campaignID, models.LeadNew)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := c.machine.Apply(ctx, id, lifecycle.Schedule, ""); err != nil {
			logging.Warn(logging.WithLead(ctx, id)).Err(err).Msg("could not schedule lead")
		}
	}

	c.mu.Lock()
	delete(c.stopped, campaignID)
	delete(c.noticed, campaignID)
	c.mu.Unlock()
	c.Wake(campaignID)
	logging.Info(ctx).Int("scheduled", len(ids)).Msg("campaign activated")
	return nil
}

// Pause stops a campaign before its next tick. A send already underway completes.
func (c *Coordinator) Pause(ctx context.Context, campaignID string) error {
	if err := c.store.SetCampaignStatus(ctx, campaignID, models.CampaignPaused); err != nil {
		return err
	}
	c.mu.Lock()
	c.stopped[campaignID] = true
	delete(c.rerun, campaignID)
	c.wakes.remove(campaignID)
	c.mu.Unlock()
	logging.Info(logging.WithCampaign(ctx, campaignID)).Msg("campaign paused")
	return nil
}

func (c *Coordinator) isStopped(campaignID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped[campaignID]
}

// notifyOnce surfaces a blocking condition once until it changes or the campaign dispatches again.
func (c *Coordinator) notifyOnce(ctx context.Context, n notify.Notice) {
	sig := string(n.Kind) + "|" + n.AccountID + "|" + n.Message
	c.mu.Lock()
	if c.noticed[n.CampaignID] == sig {
		c.mu.Unlock()
		return
	}
	c.noticed[n.CampaignID] = sig
	c.mu.Unlock()
	c.notifier.Notify(ctx, n)
}

func (c *Coordinator) clearNotice(campaignID string) {
	c.mu.Lock()
	delete(c.noticed, campaignID)
	c.mu.Unlock()
}

func (c *Coordinator) wasForced(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forced[accountID]
}

func (c *Coordinator) setForced(accountID string, forced bool) {
	c.mu.Lock()
	if forced {
		c.forced[accountID] = true
	} else {
		delete(c.forced, accountID)
	}
	c.mu.Unlock()
}
