package kiddoalert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johnnydev0/front-kiddo-alert/internal/ulid"
)

// DefaultSubjectName labels history events for a subject missing from the mirror.
const DefaultSubjectName = "Criança"

// Notifier receives every history event appended locally, for delivery as a
// local notification.
type Notifier interface {
	Notify(ctx context.Context, ev HistoryEvent) error
}

// Change names the part of the mirror that changed.
type Change string

const (
	ChangeChildren Change = "children"
	ChangeAlerts   Change = "alerts"
	ChangeHistory  Change = "history"
	ChangeRole     Change = "role"
)

// Options wires the collaborators of a Reconciler. Store and one of Client or
// Tokens are required; everything else has a default.
type Options struct {
	Store    Store
	Tokens   TokenStore
	Client   *APIClient
	Geofence *GeofenceEngine
	Notifier Notifier
	Logger   *slog.Logger

	// SubjectName is the name of the child this device belongs to in the child
	// role. Empty selects the first child in the mirror.
	SubjectName string

	Now func() time.Time
}

// Reconciler owns the local mirror of children, alerts and history. Local
// mutations apply immediately; remote calls run in the background and never
// roll local state back.
type Reconciler struct {
	cfg      Config
	store    Store
	client   *APIClient
	auth     *Authenticator
	geofence *GeofenceEngine
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	subject  string

	mu                  sync.Mutex
	children            []Child
	alerts              []Alert
	history             []HistoryEvent
	localRole           Role
	permissionExplained bool
	lastErr             error

	persistMu sync.Mutex

	listenersMu  sync.Mutex
	listeners    map[int]func(Change)
	nextListener int

	poller *poller
	wg     sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc
	unsubs []func()
}

// New creates a Reconciler. Call Bootstrap before use.
func New(cfg Config, opts Options) (*Reconciler, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, ErrMissingStore
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	client := opts.Client
	if client == nil {
		var err error
		client, err = NewAPIClient(cfg, opts.Tokens, WithClientLogger(opts.Logger))
		if err != nil {
			return nil, fmt.Errorf("create client: %w", err)
		}
	}

	engine := opts.Geofence
	if engine == nil {
		subject := opts.SubjectName
		if subject == "" {
			subject = DefaultSubjectName
		}
		engine = NewGeofenceEngine(GeofenceOptions{
			DefaultRadius: cfg.DefaultRadius,
			SubjectName:   subject,
			Logger:        opts.Logger,
			Now:           opts.Now,
		})
	}

	base, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		cfg:       cfg,
		store:     opts.Store,
		client:    client,
		geofence:  engine,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		now:       opts.Now,
		subject:   opts.SubjectName,
		localRole: RoleGuardian,
		listeners: make(map[int]func(Change)),
		base:      base,
		cancel:    cancel,
	}
	r.auth = NewAuthenticator(client, opts.Logger)
	r.poller = newPoller(cfg.PollInterval, opts.Logger, r.PullChildren)

	r.unsubs = append(r.unsubs,
		engine.Subscribe(r.handleGeofenceEvent),
		r.auth.Subscribe(func(AuthState) { r.updatePoller() }),
	)
	return r, nil
}

// Close stops background work and detaches from the engine and client. The
// Store is left open for its owner to close.
func (r *Reconciler) Close() error {
	r.cancel()
	<-r.poller.stop()
	r.wg.Wait()
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.auth.Close()
	return nil
}

// Wait blocks until every background remote call started so far has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Auth returns the session state machine.
func (r *Reconciler) Auth() *Authenticator { return r.auth }

// Client returns the session client.
func (r *Reconciler) Client() *APIClient { return r.client }

// Geofence returns the geofence engine.
func (r *Reconciler) Geofence() *GeofenceEngine { return r.geofence }

// OnChange registers fn for mirror changes and returns an unsubscribe func.
func (r *Reconciler) OnChange(fn func(Change)) func() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *Reconciler) emit(changes ...Change) {
	r.listenersMu.Lock()
	fns := make([]func(Change), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenersMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// goAsync runs fn in the background, tracked by Wait.
func (r *Reconciler) goAsync(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// advise records a non-fatal failure. It is logged, counted and exposed via
// LastError; local state is never reverted.
func (r *Reconciler) advise(op string, err error) {
	syncFailuresTotal.WithLabelValues(op).Inc()
	r.logger.Warn("remote sync failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	r.mu.Lock()
	r.lastErr = WrapOpError(op, "", err)
	r.mu.Unlock()
}

// LastError returns the most recent advisory error, if any.
func (r *Reconciler) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// ===== Mirror access =====

// Children returns a copy of the mirrored children.
func (r *Reconciler) Children() []Child {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Child(nil), r.children...)
}

// Alerts returns a copy of the mirrored alerts.
func (r *Reconciler) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

// History returns a copy of the history, most recent first.
func (r *Reconciler) History() []HistoryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HistoryEvent(nil), r.history...)
}

// Child returns the child with id.
func (r *Reconciler) Child(id string) (Child, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.childIndexLocked(id); i >= 0 {
		return r.children[i], nil
	}
	return Child{}, WrapOpError("get child", id, ErrChildNotFound)
}

// Alert returns the alert with id.
func (r *Reconciler) Alert(id string) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.alertIndexLocked(id); i >= 0 {
		return r.alerts[i], nil
	}
	return Alert{}, WrapOpError("get alert", id, ErrAlertNotFound)
}

// Snapshot returns a copy of the whole mirror.
func (r *Reconciler) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() *Snapshot {
	return &Snapshot{
		Children:            append([]Child(nil), r.children...),
		Alerts:              append([]Alert(nil), r.alerts...),
		History:             append([]HistoryEvent(nil), r.history...),
		Role:                r.localRole,
		PermissionExplained: r.permissionExplained,
	}
}

func (r *Reconciler) childIndexLocked(id string) int {
	for i := range r.children {
		if r.children[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) alertIndexLocked(id string) int {
	for i := range r.alerts {
		if r.alerts[i].ID == id {
			return i
		}
	}
	return -1
}

// subjectIndexLocked locates the child this device reports for.
func (r *Reconciler) subjectIndexLocked() int {
	if r.subject == "" {
		if len(r.children) > 0 {
			return 0
		}
		return -1
	}
	for i := range r.children {
		if r.children[i].Name == r.subject {
			return i
		}
	}
	return -1
}

// ===== Persistence =====

// persist writes the named keys from the current mirror. Failures are logged
// and swallowed: the store is a best-effort cache.
func (r *Reconciler) persist(ctx context.Context, keys ...string) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		var value interface{}
		switch key {
		case KeyChildren:
			value = nonNilChildren(snap.Children)
		case KeySavedAlerts:
			value = nonNilAlerts(snap.Alerts)
		case KeyHistoryEvents:
			value = nonNilHistory(snap.History)
		case KeyUserMode:
			value = snap.Role
		case KeyPermissionExplained:
			value = snap.PermissionExplained
		default:
			continue
		}
		if err := r.store.Save(ctx, key, value); err != nil {
			r.logger.Warn("persist failed",
				slog.String("op", "persist"),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ===== Bootstrap and full reconciliation =====

// Bootstrap loads the mirror from the store, seeds the demo dataset into an
// empty store, registers every active alert, then verifies the session in the
// background and, when it is valid, replaces the mirror with remote state.
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	snap, err := LoadSnapshot(ctx, r.store)
	if err != nil {
		r.logger.Warn("local store partially unreadable",
			slog.String("op", "load"),
			slog.String("error", err.Error()),
		)
	}

	seeded := false
	if len(snap.Children) == 0 && len(snap.Alerts) == 0 && len(snap.History) == 0 && !r.cfg.SkipDemoData {
		demo := DemoSnapshot(r.now())
		snap.Children, snap.Alerts, snap.History = demo.Children, demo.Alerts, demo.History
		seeded = true
	}

	r.mu.Lock()
	r.children = snap.Children
	r.alerts = snap.Alerts
	r.history = snap.History
	sortHistory(r.history)
	if snap.Role.Valid() {
		r.localRole = snap.Role
	}
	r.permissionExplained = snap.PermissionExplained
	paused := false
	if i := r.subjectIndexLocked(); r.subject != "" && i >= 0 && !r.children[i].Sharing {
		paused = true
	}
	r.mu.Unlock()

	if paused {
		r.geofence.RestoreSharing(false)
	}

	if seeded {
		r.logger.Info("seeded demo dataset")
		r.persist(ctx, KeyChildren, KeySavedAlerts, KeyHistoryEvents, KeyUserMode)
	}
	r.registerActiveAlerts()
	r.emit(ChangeChildren, ChangeAlerts, ChangeHistory)

	r.goAsync(func() {
		state := r.auth.CheckAuthState(ctx)
		if !state.Authenticated() {
			return
		}
		if err := r.SyncFromRemote(ctx); err != nil {
			r.logger.Warn("initial sync failed, keeping cached data",
				slog.String("op", "bootstrap_sync"),
				slog.String("error", err.Error()),
			)
		}
	})
	return nil
}

// registerActiveAlerts makes the engine's regions match the active alerts.
// Regions that stay registered keep their membership unless their geometry
// changed.
func (r *Reconciler) registerActiveAlerts() {
	alerts := r.Alerts()
	active := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		if a.Active {
			active[a.ID] = true
		}
	}
	for _, region := range r.geofence.Regions() {
		if !active[region.ID] {
			r.geofence.Unregister(region.ID)
		}
	}
	for _, a := range alerts {
		if a.Active {
			r.register(a)
		}
	}
}

func (r *Reconciler) register(a Alert) {
	if err := r.geofence.Register(a.ID, a.Name, a.Center, a.Radius, a.Schedule); err != nil {
		r.logger.Warn("geofence registration failed",
			slog.String("op", "register_region"),
			slog.String("alert_id", a.ID),
			slog.String("error", err.Error()),
		)
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
	}
}

// SyncFromRemote pulls children, alerts and history in parallel and replaces
// the mirror with them. Alerts still awaiting creation are kept. Nothing is
// changed when any pull fails.
func (r *Reconciler) SyncFromRemote(ctx context.Context) error {
	state := r.auth.State()
	if !state.Authenticated() {
		return ErrNotAuthenticated
	}

	days := DefaultRemoteHistoryDays
	if l := state.Profile.Limits; l != nil && l.Limits.HistoryDays > 0 {
		days = l.Limits.HistoryDays
	}

	var (
		remoteChildren []APIChild
		remoteAlerts   []APIAlert
		remoteHistory  *HistoryResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	if state.Role() == RoleGuardian {
		g.Go(func() error {
			var err error
			remoteChildren, err = r.client.Children.List(gctx)
			return err
		})
	}
	g.Go(func() error {
		var err error
		remoteAlerts, err = r.client.Alerts.List(gctx, "")
		return err
	})
	g.Go(func() error {
		var err error
		remoteHistory, err = r.client.History.List(gctx, days, "")
		return err
	})
	if err := g.Wait(); err != nil {
		r.advise("sync", err)
		return err
	}

	r.mu.Lock()
	if state.Role() == RoleGuardian {
		r.children = r.mergeChildrenLocked(remoteChildren)
	}
	var rekeyed map[string]string
	r.alerts, rekeyed = r.mergeAlertsLocked(remoteAlerts)
	history := make([]HistoryEvent, 0, len(remoteHistory.Events))
	for _, e := range remoteHistory.Events {
		history = append(history, e.HistoryEvent())
	}
	sortHistory(history)
	r.history = history
	r.mu.Unlock()

	for localID, serverID := range rekeyed {
		r.geofence.Rekey(localID, serverID)
	}
	r.registerActiveAlerts()
	r.persist(ctx, KeyChildren, KeySavedAlerts, KeyHistoryEvents)
	r.emit(ChangeChildren, ChangeAlerts, ChangeHistory)
	r.logger.Info("mirror synchronized",
		slog.Int("children", len(remoteChildren)),
		slog.Int("alerts", len(remoteAlerts)),
		slog.Int("events", len(history)),
	)
	return nil
}

// PullChildren refreshes the children from the remote service, overwriting
// cached coordinates and status. It backs the guardian poller.
func (r *Reconciler) PullChildren(ctx context.Context) error {
	remote, err := r.client.Children.List(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.children = r.mergeChildrenLocked(remote)
	r.mu.Unlock()

	r.persist(ctx, KeyChildren)
	r.emit(ChangeChildren)
	return nil
}

// mergeChildrenLocked returns the remote children plus local-only ones. A
// locally derived place status survives while the child is still sharing.
func (r *Reconciler) mergeChildrenLocked(remote []APIChild) []Child {
	out := make([]Child, 0, len(remote)+len(r.children))
	for _, rc := range remote {
		c := rc.Child()
		if i := r.childIndexLocked(c.ID); i >= 0 && c.Sharing {
			if prev := r.children[i].Status; prev != StatusSharingPaused && prev != "" {
				c.Status = prev
			}
		}
		out = append(out, c)
	}
	for _, c := range r.children {
		if c.LocalOnly {
			out = append(out, c)
		}
	}
	return out
}

// mergeAlertsLocked returns the remote alerts plus pending local alerts the
// server does not know yet. A pending alert matches a remote one by its
// correlation ref, or by name and center when the server does not echo it.
// The returned map takes the local id of every matched alert to its server id.
func (r *Reconciler) mergeAlertsLocked(remote []APIAlert) ([]Alert, map[string]string) {
	out := make([]Alert, 0, len(remote)+len(r.alerts))
	rekeyed := make(map[string]string)
	for _, ra := range remote {
		out = append(out, ra.Alert())
	}
	for _, local := range r.alerts {
		if !local.Pending {
			continue
		}
		matched := false
		for i := range out {
			if alertMatches(local, out[i]) {
				out[i].ClientRef = local.ClientRef
				rekeyed[local.ID] = out[i].ID
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, local)
		}
	}
	return out, rekeyed
}

func alertMatches(local, remote Alert) bool {
	if remote.ClientRef != "" {
		return remote.ClientRef == local.ClientRef
	}
	return remote.Name == local.Name && remote.Center == local.Center
}

// ===== Children =====

// AddChild creates a child. Without a session the child is stored locally
// only and no invite token is returned. With a session the child is created
// remotely first; on failure nothing is added locally.
func (r *Reconciler) AddChild(ctx context.Context, name string) (Child, string, error) {
	name = strings.TrimSpace(name)
	if err := validateStruct(CreateChildRequest{Name: name}); err != nil {
		return Child{}, "", err
	}

	state := r.auth.State()
	if !state.Authenticated() {
		child := Child{
			ID:        ulid.NewFromTime(r.now()),
			Name:      name,
			Sharing:   true,
			Status:    StatusInTransit,
			LocalOnly: true,
		}
		r.appendChild(ctx, child)
		r.logger.Info("child added offline", slog.String("child_id", child.ID))
		return child, "", nil
	}
	if state.Role() != RoleGuardian {
		return Child{}, "", WrapOpError("add child", name, ErrWrongRole)
	}

	resp, err := r.client.Children.Create(ctx, name)
	if err != nil {
		syncFailuresTotal.WithLabelValues("create_child").Inc()
		return Child{}, "", err
	}
	child := resp.Child.Child()
	r.appendChild(ctx, child)
	r.logger.Info("child created", slog.String("child_id", child.ID))
	return child, resp.InviteToken, nil
}

func (r *Reconciler) appendChild(ctx context.Context, child Child) {
	r.mu.Lock()
	r.children = append(r.children, child)
	r.mu.Unlock()
	r.persist(ctx, KeyChildren)
	r.emit(ChangeChildren)
}

// RenameChild renames a child locally and pushes the change in the background.
func (r *Reconciler) RenameChild(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return NewValidationError("name", "required")
	}
	r.mu.Lock()
	i := r.childIndexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return WrapOpError("rename child", id, ErrChildNotFound)
	}
	r.children[i].Name = name
	localOnly := r.children[i].LocalOnly
	r.mu.Unlock()

	r.persist(ctx, KeyChildren)
	r.emit(ChangeChildren)

	if localOnly || !r.auth.State().Authenticated() {
		return nil
	}
	r.goAsync(func() {
		if _, err := r.client.Children.Update(ctx, id, UpdateChildRequest{Name: stringPtr(name)}); err != nil {
			r.advise("update_child", err)
		}
	})
	return nil
}

// RemoveChild deletes a child and every alert it owns.
func (r *Reconciler) RemoveChild(ctx context.Context, id string) error {
	r.mu.Lock()
	i := r.childIndexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return WrapOpError("remove child", id, ErrChildNotFound)
	}
	localOnly := r.children[i].LocalOnly
	r.children = append(r.children[:i], r.children[i+1:]...)

	var removed []string
	kept := r.alerts[:0]
	for _, a := range r.alerts {
		if a.ChildID == id {
			removed = append(removed, a.ID)
			continue
		}
		kept = append(kept, a)
	}
	r.alerts = kept
	r.mu.Unlock()

	for _, alertID := range removed {
		r.geofence.Unregister(alertID)
	}
	r.persist(ctx, KeyChildren, KeySavedAlerts)
	r.emit(ChangeChildren, ChangeAlerts)

	if localOnly || !r.auth.State().Authenticated() {
		return nil
	}
	r.goAsync(func() {
		if err := r.client.Children.Delete(ctx, id); err != nil {
			r.advise("delete_child", err)
		}
	})
	return nil
}

// InviteChild mints a fresh invite token for a server-side child.
func (r *Reconciler) InviteChild(ctx context.Context, id string) (*InviteResponse, error) {
	child, err := r.Child(id)
	if err != nil {
		return nil, err
	}
	if child.LocalOnly {
		return nil, WrapOpError("invite child", id, ErrNotAuthenticated)
	}
	return r.client.Children.Invite(ctx, id)
}

// ===== Alerts =====

// AddAlert stores a new alert immediately, registers it when active, and
// creates it remotely in the background. The confirmed record later replaces
// the optimistic one; a failed create leaves it in place.
func (r *Reconciler) AddAlert(ctx context.Context, a Alert) (Alert, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return Alert{}, NewValidationError("name", "required")
	}
	if err := validateStruct(a.Center); err != nil {
		return Alert{}, err
	}
	if a.Radius <= 0 {
		a.Radius = r.cfg.DefaultRadius
	}

	authenticated := r.auth.State().Authenticated()
	now := r.now()
	a.ID = ulid.NewFromTime(now)
	a.ClientRef = ulid.NewFromTime(now)
	a.Pending = authenticated

	r.mu.Lock()
	if a.ChildID != "" && r.childIndexLocked(a.ChildID) < 0 {
		r.mu.Unlock()
		return Alert{}, WrapOpError("add alert", a.ChildID, ErrChildNotFound)
	}
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()

	r.persist(ctx, KeySavedAlerts)
	if a.Active {
		r.register(a)
	}
	r.emit(ChangeAlerts)

	if authenticated {
		local := a
		r.goAsync(func() {
			created, err := r.client.Alerts.Create(ctx, NewCreateAlertRequest(local))
			if err != nil {
				r.advise("create_alert", err)
				return
			}
			r.confirmAlert(ctx, local, created.Alert())
		})
	}
	return a, nil
}

// confirmAlert swaps the optimistic record identified by its correlation ref
// for the server copy. Local edits made while the create was in flight win and
// are pushed again; a record removed meanwhile is deleted remotely.
func (r *Reconciler) confirmAlert(ctx context.Context, local, confirmed Alert) {
	r.mu.Lock()
	idx := -1
	for i := range r.alerts {
		if r.alerts[i].ClientRef == local.ClientRef {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		r.goAsync(func() {
			if err := r.client.Alerts.Delete(ctx, confirmed.ID); err != nil {
				r.advise("delete_alert", err)
			}
		})
		return
	}

	current := r.alerts[idx]
	edited := current.Pending && !reflect.DeepEqual(current, local)
	merged := confirmed
	if edited {
		merged = current
		merged.ID = confirmed.ID
	}
	if merged.ChildID == "" {
		merged.ChildID = current.ChildID
	}
	merged.ClientRef = local.ClientRef
	merged.Pending = false
	r.alerts[idx] = merged
	r.mu.Unlock()

	r.geofence.Rekey(current.ID, merged.ID)
	if merged.Active {
		r.register(merged)
	} else {
		r.geofence.Unregister(merged.ID)
	}
	r.persist(ctx, KeySavedAlerts)
	r.emit(ChangeAlerts)
	r.logger.Debug("alert confirmed",
		slog.String("local_id", current.ID),
		slog.String("alert_id", merged.ID),
	)

	if edited {
		r.goAsync(func() {
			if _, err := r.client.Alerts.Update(ctx, merged.ID, NewUpdateAlertRequest(merged)); err != nil {
				r.advise("update_alert", err)
			}
		})
	}
}

// UpdateAlert replaces the alert with a.ID, re-registers or unregisters its
// region, and pushes the change in the background.
func (r *Reconciler) UpdateAlert(ctx context.Context, a Alert) error {
	if err := validateStruct(a.Center); err != nil {
		return err
	}
	if a.Radius <= 0 {
		a.Radius = r.cfg.DefaultRadius
	}

	r.mu.Lock()
	i := r.alertIndexLocked(a.ID)
	if i < 0 {
		r.mu.Unlock()
		return WrapOpError("update alert", a.ID, ErrAlertNotFound)
	}
	a.ClientRef = r.alerts[i].ClientRef
	a.Pending = r.alerts[i].Pending
	r.alerts[i] = a
	r.mu.Unlock()

	if a.Active {
		r.register(a)
	} else {
		r.geofence.Unregister(a.ID)
	}
	r.persist(ctx, KeySavedAlerts)
	r.emit(ChangeAlerts)

	if a.Pending || !r.auth.State().Authenticated() {
		return nil
	}
	r.goAsync(func() {
		if _, err := r.client.Alerts.Update(ctx, a.ID, NewUpdateAlertRequest(a)); err != nil {
			r.advise("update_alert", err)
		}
	})
	return nil
}

// SetAlertActive toggles an alert's active flag.
func (r *Reconciler) SetAlertActive(ctx context.Context, id string, active bool) error {
	a, err := r.Alert(id)
	if err != nil {
		return err
	}
	a.Active = active
	return r.UpdateAlert(ctx, a)
}

// RemoveAlert deletes an alert and its region, and deletes it remotely in the
// background.
func (r *Reconciler) RemoveAlert(ctx context.Context, id string) error {
	r.mu.Lock()
	i := r.alertIndexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return WrapOpError("remove alert", id, ErrAlertNotFound)
	}
	pending := r.alerts[i].Pending
	r.alerts = append(r.alerts[:i], r.alerts[i+1:]...)
	r.mu.Unlock()

	r.geofence.Unregister(id)
	r.persist(ctx, KeySavedAlerts)
	r.emit(ChangeAlerts)

	if pending || !r.auth.State().Authenticated() {
		return nil
	}
	r.goAsync(func() {
		if err := r.client.Alerts.Delete(ctx, id); err != nil {
			r.advise("delete_alert", err)
		}
	})
	return nil
}

// ===== Location =====

// IngestFix feeds a position fix to the geofence engine. In the child role it
// also updates this device's child record and pushes the fix in the
// background. Fixes are ignored while sharing is paused or permission is
// missing.
func (r *Reconciler) IngestFix(ctx context.Context, fix Fix) []GeofenceEvent {
	if fix.Timestamp.IsZero() {
		fix.Timestamp = r.now()
	}
	if !r.geofence.Sharing() {
		return nil
	}
	events := r.geofence.OnFix(fix)
	if r.geofence.LastError() != nil {
		return events
	}
	if r.Role() != RoleChild {
		return events
	}

	r.mu.Lock()
	if i := r.subjectIndexLocked(); i >= 0 {
		c := &r.children[i]
		loc := fix.Coordinate
		at := fix.Timestamp
		c.LastLocation = &loc
		c.LastFixAt = &at
		if fix.BatteryLevel != nil {
			battery := *fix.BatteryLevel
			c.BatteryLevel = &battery
		}
	}
	r.mu.Unlock()
	r.persist(ctx, KeyChildren)
	r.emit(ChangeChildren)

	if !r.auth.State().Authenticated() {
		return events
	}
	req := LocationUpdateRequest{
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		BatteryLevel: fix.BatteryLevel,
	}
	r.goAsync(func() {
		if _, err := r.client.Location.Update(ctx, req); err != nil {
			r.advise("location_update", err)
		}
	})
	return events
}

// Run ingests fixes until ctx is done or fixes is closed.
func (r *Reconciler) Run(ctx context.Context, fixes <-chan Fix) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fix, ok := <-fixes:
			if !ok {
				return nil
			}
			r.IngestFix(ctx, fix)
		}
	}
}

// PauseLocationSharing stops fix consumption and records a Paused event.
// Pausing while already paused does nothing.
func (r *Reconciler) PauseLocationSharing(ctx context.Context) {
	if _, changed := r.geofence.SetSharing(false); !changed {
		return
	}
	r.pushSharing(ctx, false)
}

// ResumeLocationSharing restarts fix consumption and records a Resumed event.
func (r *Reconciler) ResumeLocationSharing(ctx context.Context) {
	if _, changed := r.geofence.SetSharing(true); !changed {
		return
	}
	r.pushSharing(ctx, true)
}

func (r *Reconciler) pushSharing(ctx context.Context, active bool) {
	if r.auth.State().Role() != RoleChild {
		return
	}
	r.goAsync(func() {
		op, call := "location_pause", r.client.Location.Pause
		if active {
			op, call = "location_resume", r.client.Location.Resume
		}
		if err := call(ctx); err != nil {
			r.advise(op, err)
		}
	})
}

// SetPermission forwards the platform permission state to the engine.
func (r *Reconciler) SetPermission(granted bool) {
	r.geofence.SetPermission(granted)
}

// ===== Geofence events =====

func (r *Reconciler) handleGeofenceEvent(ev GeofenceEvent) {
	var entry HistoryEvent

	r.mu.Lock()
	switch ev.Kind {
	case GeofenceEntered, GeofenceExited:
		ai := r.alertIndexLocked(ev.AlertID)
		if ai < 0 {
			r.mu.Unlock()
			r.logger.Debug("event for unknown alert", slog.String("alert_id", ev.AlertID))
			return
		}
		alert := r.alerts[ai]

		ci := r.childIndexLocked(alert.ChildID)
		if ci < 0 {
			ci = r.subjectIndexLocked()
		}
		entry = HistoryEvent{Type: EventArrived, Location: alert.Name}
		status := statusForPlace(alert.Name)
		if ev.Kind == GeofenceExited {
			entry.Type = EventLeft
			status = StatusInTransit
		}
		entry.ChildName = DefaultSubjectName
		if ci >= 0 {
			r.children[ci].Status = status
			entry.ChildName = r.children[ci].Name
		}

	case GeofenceSharingPaused, GeofenceSharingResumed:
		entry = HistoryEvent{Type: EventPaused, ChildName: ev.SubjectName}
		if ev.Kind == GeofenceSharingResumed {
			entry.Type = EventResumed
		}
		if ci := r.subjectIndexLocked(); ci >= 0 {
			c := &r.children[ci]
			entry.ChildName = c.Name
			c.Sharing = ev.Kind == GeofenceSharingResumed
			c.Status = StatusSharingPaused
			if c.Sharing {
				c.Status = StatusInTransit
			}
		}

	default:
		r.mu.Unlock()
		return
	}

	entry.Timestamp = ev.Timestamp
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	entry.ID = ulid.NewFromTime(entry.Timestamp)
	r.history = append([]HistoryEvent{entry}, r.history...)
	r.mu.Unlock()

	historyEventsTotal.WithLabelValues(string(entry.Type)).Inc()
	r.persist(context.Background(), KeyChildren, KeyHistoryEvents)
	r.emit(ChangeChildren, ChangeHistory)
	r.logger.Info("history event",
		slog.String("type", string(entry.Type)),
		slog.String("child", entry.ChildName),
		slog.String("location", entry.Location),
	)

	if r.notifier != nil {
		if err := r.notifier.Notify(r.base, entry); err != nil {
			r.logger.Warn("notification failed",
				slog.String("op", "notify"),
				slog.String("error", err.Error()),
			)
		}
	}
}

// statusForPlace derives a child status from the name of the alert entered.
func statusForPlace(name string) ChildStatus {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "casa", "home":
		return StatusAtHome
	case "escola", "school":
		return StatusAtSchool
	default:
		return StatusInTransit
	}
}

// ===== History =====

// PruneHistory removes events older than days (the configured retention when
// days <= 0) and returns how many were removed.
func (r *Reconciler) PruneHistory(ctx context.Context, days int) int {
	if days <= 0 {
		days = r.cfg.HistoryRetentionDays
	}
	cutoff := r.now().AddDate(0, 0, -days)

	r.mu.Lock()
	kept := make([]HistoryEvent, 0, len(r.history))
	for _, e := range r.history {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(r.history) - len(kept)
	r.history = kept
	r.mu.Unlock()

	if removed > 0 {
		r.persist(ctx, KeyHistoryEvents)
		r.emit(ChangeHistory)
	}
	return removed
}

// ===== Role and flags =====

// Role returns the active role: the profile role when signed in, otherwise
// the locally persisted mode.
func (r *Reconciler) Role() Role {
	if role := r.auth.State().Role(); role != "" {
		return role
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localRole
}

// SetRole switches the active role. When signed in the profile is updated
// remotely first and nothing changes locally on failure.
func (r *Reconciler) SetRole(ctx context.Context, role Role) error {
	if !role.Valid() {
		return NewValidationError("role", "unknown role")
	}
	if state := r.auth.State(); state.Authenticated() {
		if _, err := r.auth.UpdateProfile(ctx, state.Profile.Name, &role); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.localRole = role
	r.mu.Unlock()

	r.persist(ctx, KeyUserMode)
	r.updatePoller()
	r.emit(ChangeRole)
	return nil
}

// ToggleRole flips between guardian and child and returns the new role.
func (r *Reconciler) ToggleRole(ctx context.Context) (Role, error) {
	next := RoleChild
	if r.Role() == RoleChild {
		next = RoleGuardian
	}
	if err := r.SetRole(ctx, next); err != nil {
		return r.Role(), err
	}
	return next, nil
}

// PermissionExplained reports whether the permission explanation was shown.
func (r *Reconciler) PermissionExplained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permissionExplained
}

// MarkPermissionExplained records that the permission explanation was shown.
func (r *Reconciler) MarkPermissionExplained(ctx context.Context) {
	r.mu.Lock()
	r.permissionExplained = true
	r.mu.Unlock()
	r.persist(ctx, KeyPermissionExplained)
}

// ===== Session =====

// Logout ends the session. Cached data is kept.
func (r *Reconciler) Logout(ctx context.Context) {
	r.auth.Logout(ctx)
}

// ClearAllData wipes the store, the mirror, every region and every credential.
func (r *Reconciler) ClearAllData(ctx context.Context) error {
	var errs []error
	if err := r.store.Clear(ctx); err != nil {
		errs = append(errs, WrapOpError("clear store", "", err))
	}
	if s, ok := r.client.tokens.(interface{ ClearAll() error }); ok {
		if err := s.ClearAll(); err != nil {
			errs = append(errs, WrapOpError("clear secrets", "", err))
		}
	} else if err := r.client.tokens.ClearTokens(); err != nil {
		errs = append(errs, WrapOpError("clear tokens", "", err))
	}

	r.mu.Lock()
	r.children = nil
	r.alerts = nil
	r.history = nil
	r.localRole = RoleGuardian
	r.permissionExplained = false
	r.lastErr = nil
	r.mu.Unlock()

	r.geofence.UnregisterAll()
	r.auth.setUnauthenticated()
	r.emit(ChangeChildren, ChangeAlerts, ChangeHistory, ChangeRole)
	return errors.Join(errs...)
}

// updatePoller runs the children poller only for a signed-in guardian.
func (r *Reconciler) updatePoller() {
	if r.base.Err() != nil {
		return
	}
	state := r.auth.State()
	if state.Authenticated() && state.Role() == RoleGuardian {
		r.poller.start(r.base)
		return
	}
	r.poller.stop()
}

// Polling reports whether the guardian poller is running.
func (r *Reconciler) Polling() bool {
	return r.poller.running()
}

// Session returns the current auth state.
func (r *Reconciler) Session() AuthState {
	return r.auth.State()
}

// Regions returns the regions the geofence engine currently monitors.
func (r *Reconciler) Regions() []Region {
	return r.geofence.Regions()
}
