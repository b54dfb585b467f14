package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/wallet-watch/internal/connection"
	"github.com/rickgao/wallet-watch/internal/metrics"
	"github.com/rickgao/wallet-watch/internal/model"
	"github.com/rickgao/wallet-watch/internal/protocol"
	"github.com/rickgao/wallet-watch/internal/registry"
)

// NotificationSink receives every logs notification for a bound wallet.
// Submit is called from the pool loop and must not block.
type NotificationSink interface {
	Submit(ev model.TransactionEvent)
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock sets the clock used for backoff timers.
func WithClock(c clock.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithClientFactory replaces the transport constructor. The factory is
// called once per connection attempt.
func WithClientFactory(f func(id int) connection.Client) Option {
	return func(p *Pool) { p.newClient = f }
}

// Pool owns the connection records and the subscription registry.
type Pool struct {
	cfg       Config
	sink      NotificationSink
	logger    *slog.Logger
	clock     clock.Clock
	metrics   *metrics.Metrics
	newClient func(id int) connection.Client
	codec     *protocol.Codec

	events   chan event
	stopping chan struct{} // closed when shutdown begins
	done     chan struct{} // closed when the loop has exited

	lifeMu  sync.Mutex
	started bool
	stopped bool

	// Loop-owned state
	runCtx    context.Context
	cancelRun context.CancelFunc
	records   map[int]*record
	nextID    int
	registry  *registry.Registry
	timers    map[int]*clock.Timer
	wg        sync.WaitGroup // pumps and dialers
}

// New creates a Pool. Start must be called before use.
func New(cfg Config, sink NotificationSink, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	p := &Pool{
		cfg:      cfg,
		sink:     sink,
		logger:   logger,
		clock:    clock.New(),
		codec:    protocol.NewCodec(cfg.Commitment),
		events:   make(chan event, 256),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		records:  make(map[int]*record),
		registry: registry.New(),
		timers:   make(map[int]*clock.Timer),
	}
	p.newClient = func(id int) connection.Client {
		return connection.NewClient(p.cfg.Client, p.logger.With("conn_id", id))
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start launches the event loop. Cancelling ctx shuts the pool down.
func (p *Pool) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.stopped {
		return ErrClosed
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	p.runCtx, p.cancelRun = context.WithCancel(context.Background())

	go p.run(ctx)

	p.logger.Info("pool started",
		"wallets_per_connection", p.cfg.WalletsPerConnection,
		"max_connections", p.cfg.MaxConnections,
	)
	return nil
}

// Add subscribes subscriber to address. The call returns once the address is
// bound to an open connection, or with an error wrapping ErrCapacity,
// ErrSubscribe or ErrClosed. If ctx ends first, Add returns ctx.Err() and the
// registration it made is rolled back when the connection's first dial
// resolves.
func (p *Pool) Add(ctx context.Context, address model.Address, subscriber model.SubscriberID) error {
	if err := p.ready(); err != nil {
		return err
	}

	reply := make(chan error, 1)
	if err := p.send(ctx, addRequest{ctx: ctx, address: address, subscriber: subscriber, reply: reply}); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-p.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Remove unsubscribes subscriber from address. Unknown pairs and a closed
// pool are no-ops.
func (p *Pool) Remove(address model.Address, subscriber model.SubscriberID) {
	if p.ready() != nil {
		return
	}

	reply := make(chan struct{}, 1)
	if p.send(context.Background(), removeRequest{address: address, subscriber: subscriber, reply: reply}) != nil {
		return
	}

	select {
	case <-reply:
	case <-p.done:
	}
}

// Status returns one entry per connection record, ordered by id.
func (p *Pool) Status() []ConnectionStatus {
	if p.ready() != nil {
		return nil
	}

	reply := make(chan []ConnectionStatus, 1)
	if p.send(context.Background(), statusRequest{reply: reply}) != nil {
		return nil
	}

	select {
	case s := <-reply:
		return s
	case <-p.done:
		return nil
	}
}

// Subscribers returns the subscribers currently registered for address.
// Once the pool has shut down it answers from the registry as it stood when
// the loop exited, so events queued before Shutdown can still be delivered.
func (p *Pool) Subscribers(address model.Address) []model.SubscriberID {
	if err := p.ready(); err != nil {
		if errors.Is(err, ErrClosed) {
			return p.finalSubscribers(address)
		}
		return nil
	}

	reply := make(chan []model.SubscriberID, 1)
	if p.send(context.Background(), subscribersRequest{address: address, reply: reply}) != nil {
		return p.finalSubscribers(address)
	}

	select {
	case s := <-reply:
		return s
	case <-p.done:
		return p.finalSubscribers(address)
	}
}

// finalSubscribers waits for the loop to exit and reads the registry it left
// behind. The loop never touches the registry after close(done).
func (p *Pool) finalSubscribers(address model.Address) []model.SubscriberID {
	<-p.done
	return p.registry.Subscribers(address)
}

// Shutdown stops reconnection, closes every connection and waits for the
// loop to exit. The registry is kept for Subscribers. It is safe to call more
// than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.lifeMu.Lock()
	first := !p.stopped
	p.stopped = true
	started := p.started
	p.lifeMu.Unlock()

	if first {
		if !started {
			close(p.stopping)
			close(p.done)
		} else {
			select {
			case p.events <- shutdownRequest{}:
			case <-p.done:
			}
		}
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the pool has shut down.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) ready() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.stopped {
		return ErrClosed
	}
	if !p.started {
		return ErrNotStarted
	}
	return nil
}

// send hands a request to the loop.
func (p *Pool) send(ctx context.Context, ev event) error {
	select {
	case p.events <- ev:
		return nil
	case <-p.stopping:
		return ErrClosed
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands a transport or timer event to the loop. It reports false once
// shutdown has begun.
func (p *Pool) post(ev event) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.stopping:
		return false
	}
}

// -----------------------------------------------------------------------------
// Event loop
// -----------------------------------------------------------------------------

func (p *Pool) run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		case ev := <-p.events:
			if _, ok := ev.(shutdownRequest); ok {
				p.shutdown()
				return
			}
			p.handle(ev)
			p.updateGauges()
		}
	}
}

func (p *Pool) handle(ev event) {
	switch e := ev.(type) {
	case addRequest:
		p.handleAdd(e)
	case removeRequest:
		p.handleRemove(e)
		e.reply <- struct{}{}
	case statusRequest:
		e.reply <- p.status()
	case subscribersRequest:
		e.reply <- p.registry.Subscribers(e.address)
	case dialResult:
		p.handleDialResult(e)
	case inbound:
		p.handleInbound(e)
	case transportClosed:
		p.handleTransportClosed(e)
	case reconnectDue:
		p.handleReconnectDue(e)
	default:
		p.logger.Error("unhandled pool event", "type", fmt.Sprintf("%T", ev))
	}
}

func (p *Pool) handleAdd(req addRequest) {
	if err := req.ctx.Err(); err != nil {
		req.reply <- err
		return
	}

	added, _ := p.registry.Add(req.address, req.subscriber)

	if rec := p.boundRecord(req.address); rec != nil {
		if !rec.opened {
			p.park(rec, req, added)
			return
		}
		req.reply <- nil
		return
	}

	rec, err := p.place(req.address)
	if err != nil {
		if added {
			p.registry.Remove(req.address, req.subscriber)
		}
		req.reply <- err
		return
	}

	if !rec.open {
		p.park(rec, req, added)
		return
	}

	if err := p.subscribe(rec, req.address); err != nil {
		p.unbind(rec, req.address)
		if added {
			p.registry.Remove(req.address, req.subscriber)
		}
		req.reply <- fmt.Errorf("%w: %s on connection %d: %v", ErrSubscribe, req.address, rec.id, err)
		return
	}

	req.reply <- nil
}

// park holds an Add until rec's first dial resolves.
func (p *Pool) park(rec *record, req addRequest, added bool) {
	rec.waiters = append(rec.waiters, waiter{
		ctx:        req.ctx,
		address:    req.address,
		subscriber: req.subscriber,
		added:      added,
		reply:      req.reply,
	})
}

func (p *Pool) handleRemove(req removeRequest) {
	if !p.registry.Remove(req.address, req.subscriber) {
		return
	}

	for _, rec := range p.sortedRecords() {
		if rec.holds(req.address) {
			p.unbind(rec, req.address)
		}
	}

	p.logger.Debug("address unwatched", "address", req.address)
}

// boundRecord returns the record holding address in any state.
func (p *Pool) boundRecord(address model.Address) *record {
	for _, rec := range p.sortedRecords() {
		if rec.holds(address) {
			return rec
		}
	}
	return nil
}

// place binds address to a record: the first open record with spare room,
// else a record still opening for the first time, else a new record.
func (p *Pool) place(address model.Address) (*record, error) {
	recs := p.sortedRecords()
	limit := p.cfg.WalletsPerConnection

	for _, rec := range recs {
		if rec.open && len(rec.wallets) < limit {
			rec.wallets[address] = &binding{}
			return rec, nil
		}
	}

	for _, rec := range recs {
		if !rec.opened && rec.client != nil && len(rec.wallets) < limit {
			rec.wallets[address] = &binding{}
			return rec, nil
		}
	}

	if len(p.records) >= p.cfg.MaxConnections {
		return nil, fmt.Errorf("%w: %d connections of %d wallets each are full",
			ErrCapacity, p.cfg.MaxConnections, limit)
	}

	p.nextID++
	rec := newRecord(p.nextID, p.logger)
	p.records[rec.id] = rec
	rec.wallets[address] = &binding{}
	p.dial(rec)

	rec.logger.Info("connection created")
	return rec, nil
}

// subscribe sends logsSubscribe for a wallet already held by rec.
func (p *Pool) subscribe(rec *record, address model.Address) error {
	b, ok := rec.wallets[address]
	if !ok {
		return nil
	}

	id, data, err := p.codec.Subscribe(address)
	if err != nil {
		return err
	}
	b.requestID = id
	b.subscriptionID = 0
	rec.requests[id] = address

	if err := rec.client.Send(data); err != nil {
		delete(rec.requests, id)
		b.requestID = 0
		return err
	}
	return nil
}

// unbind drops address from rec, sending logsUnsubscribe when a server
// subscription exists. An unacknowledged request stays correlated so its
// late ack can be unsubscribed.
func (p *Pool) unbind(rec *record, address model.Address) {
	b, ok := rec.wallets[address]
	if !ok {
		return
	}
	delete(rec.wallets, address)

	if b.subscriptionID == 0 {
		return
	}
	delete(rec.subs, b.subscriptionID)
	p.unsubscribe(rec, b.subscriptionID)
}

func (p *Pool) unsubscribe(rec *record, subscriptionID int64) {
	if !rec.open {
		return
	}
	_, data, err := p.codec.Unsubscribe(subscriptionID)
	if err == nil {
		err = rec.client.Send(data)
	}
	if err != nil {
		rec.logger.Warn("unsubscribe failed", "subscription_id", subscriptionID, "error", err)
	}
}

// -----------------------------------------------------------------------------
// Transport lifecycle
// -----------------------------------------------------------------------------

// dial opens a new transport for rec off the loop.
func (p *Pool) dial(rec *record) {
	client := p.newClient(rec.id)
	rec.client = client
	rec.open = false

	p.wg.Add(1)
	go func(id int) {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(p.runCtx, p.cfg.ConnectTimeout)
		defer cancel()

		err := client.Connect(ctx)
		if !p.post(dialResult{id: id, client: client, err: err}) && err == nil {
			client.Close()
		}
	}(rec.id)
}

// pump forwards one transport's frames and terminal error to the loop.
func (p *Pool) pump(id int, client connection.Client) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case msg := <-client.Messages():
				if !p.post(inbound{id: id, client: client, msg: msg}) {
					return
				}
			case err := <-client.Errors():
				p.post(transportClosed{id: id, client: client, err: err})
				return
			case <-client.Done():
				return
			case <-p.stopping:
				return
			}
		}
	}()
}

func (p *Pool) current(id int, client connection.Client) *record {
	rec, ok := p.records[id]
	if !ok || rec.client != client {
		return nil
	}
	return rec
}

func (p *Pool) handleDialResult(e dialResult) {
	rec := p.current(e.id, e.client)
	if rec == nil {
		if e.err == nil {
			e.client.Close()
		}
		return
	}

	if e.err != nil {
		rec.client = nil
		if !rec.opened {
			p.abandon(rec, e.err)
			return
		}
		rec.logger.Warn("reconnect failed", "attempt", rec.reconnectAttempts, "error", e.err)
		p.scheduleReconnect(rec)
		return
	}

	rec.open = true
	p.pump(rec.id, rec.client)

	if rec.opened {
		rec.reconnectAttempts = 0
		rec.isReconnecting = false
		p.metrics.IncReconnect()
		rec.logger.Info("connection reestablished", "wallets", len(rec.wallets))
	} else {
		rec.opened = true
		rec.logger.Info("connection open")
	}

	p.dropLeftWaiters(rec)

	failed := make(map[model.Address]error)
	for _, addr := range rec.addresses() {
		if !p.registry.Has(addr) {
			p.unbind(rec, addr)
			continue
		}
		if err := p.subscribe(rec, addr); err != nil {
			rec.logger.Warn("subscribe failed, wallet unbound", "address", addr, "error", err)
			p.unbind(rec, addr)
			p.metrics.IncDropped("resubscribe")
			failed[addr] = err
		}
	}

	for _, w := range rec.waiters {
		if err, ok := failed[w.address]; ok {
			if w.added {
				p.registry.Remove(w.address, w.subscriber)
			}
			w.reply <- fmt.Errorf("%w: %s on connection %d: %v", ErrSubscribe, w.address, rec.id, err)
			continue
		}
		w.reply <- nil
	}
	rec.waiters = nil
}

// dropLeftWaiters answers waiters whose Add context ended while the dial was
// pending and takes back the registrations they made. Their wallets are then
// unbound by the resubscribe pass unless someone else still wants them.
func (p *Pool) dropLeftWaiters(rec *record) {
	type pair struct {
		address    model.Address
		subscriber model.SubscriberID
	}
	errs := make([]error, len(rec.waiters))
	live := make(map[pair]bool)
	for i, w := range rec.waiters {
		errs[i] = w.ctx.Err()
		if errs[i] == nil {
			live[pair{w.address, w.subscriber}] = true
		}
	}

	kept := make([]waiter, 0, len(rec.waiters))
	for i, w := range rec.waiters {
		if errs[i] == nil {
			kept = append(kept, w)
			continue
		}
		if w.added && !live[pair{w.address, w.subscriber}] {
			p.registry.Remove(w.address, w.subscriber)
		}
		rec.logger.Debug("add abandoned by caller", "address", w.address, "subscriber", w.subscriber)
		w.reply <- errs[i]
	}
	rec.waiters = kept
}

// abandon drops a record whose first dial failed. Nothing was ever
// subscribed on it, so parked callers get ErrSubscribe and queued
// redistributions are dropped.
func (p *Pool) abandon(rec *record, cause error) {
	delete(p.records, rec.id)
	rec.logger.Warn("connection failed to open", "error", cause)

	waiting := make(map[model.Address]bool)
	for _, w := range rec.waiters {
		waiting[w.address] = true
		if w.added {
			p.registry.Remove(w.address, w.subscriber)
		}
		w.reply <- fmt.Errorf("%w: %s: connection %d: %v", ErrSubscribe, w.address, rec.id, cause)
	}
	rec.waiters = nil

	for _, addr := range rec.addresses() {
		if waiting[addr] || !p.registry.Has(addr) {
			continue
		}
		rec.logger.Warn("dropping wallet, connection failed to open", "address", addr)
		p.metrics.IncDropped("dial")
	}
}

func (p *Pool) handleTransportClosed(e transportClosed) {
	rec := p.current(e.id, e.client)
	if rec == nil {
		return
	}

	rec.client = nil
	rec.open = false
	rec.resetSubscriptions()

	if len(rec.wallets) == 0 {
		delete(p.records, rec.id)
		rec.logger.Info("connection closed with no wallets, dropped", "error", e.err)
		return
	}

	rec.logger.Warn("connection lost", "wallets", len(rec.wallets), "error", e.err)
	p.scheduleReconnect(rec)
}

// scheduleReconnect takes one backoff step, or gives up once the attempt
// budget is spent.
func (p *Pool) scheduleReconnect(rec *record) {
	n := rec.reconnectAttempts
	if n >= p.cfg.MaxReconnectAttempts {
		p.giveUp(rec)
		return
	}

	delay := Backoff(p.cfg.ReconnectBaseDelay, p.cfg.ReconnectMaxDelay, n)
	rec.reconnectAttempts = n + 1
	rec.isReconnecting = true
	p.metrics.IncReconnectAttempt()

	id := rec.id
	p.timers[id] = p.clock.AfterFunc(delay, func() {
		p.post(reconnectDue{id: id})
	})

	rec.logger.Info("reconnect scheduled", "attempt", rec.reconnectAttempts, "delay", delay)
}

func (p *Pool) handleReconnectDue(e reconnectDue) {
	delete(p.timers, e.id)

	rec, ok := p.records[e.id]
	if !ok || rec.client != nil {
		return
	}
	p.dial(rec)
}

// giveUp removes rec and places its wallets elsewhere.
func (p *Pool) giveUp(rec *record) {
	delete(p.records, rec.id)
	if t, ok := p.timers[rec.id]; ok {
		t.Stop()
		delete(p.timers, rec.id)
	}

	rec.logger.Warn("reconnect attempts exhausted, redistributing wallets",
		"attempts", rec.reconnectAttempts,
		"wallets", len(rec.wallets),
	)

	for _, addr := range rec.addresses() {
		if !p.registry.Has(addr) {
			continue
		}
		if err := p.redistribute(addr); err != nil {
			rec.logger.Warn("dropping wallet", "address", addr, "error", err)
			if errors.Is(err, ErrCapacity) {
				p.metrics.IncDropped("capacity")
			} else {
				p.metrics.IncDropped("resubscribe")
			}
			continue
		}
		p.metrics.IncRedistributed()
	}
}

func (p *Pool) redistribute(address model.Address) error {
	target, err := p.place(address)
	if err != nil {
		return err
	}
	if !target.open {
		return nil
	}
	if err := p.subscribe(target, address); err != nil {
		p.unbind(target, address)
		return fmt.Errorf("%w: %v", ErrSubscribe, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Inbound frames
// -----------------------------------------------------------------------------

func (p *Pool) handleInbound(e inbound) {
	rec := p.current(e.id, e.client)
	if rec == nil {
		return
	}

	msg, err := protocol.Classify(e.msg.Data)
	if err != nil {
		rec.logger.Warn("discarding malformed frame", "error", err, "size", len(e.msg.Data))
		p.metrics.IncProtocolError("malformed")
		return
	}

	switch m := msg.(type) {
	case protocol.Ack:
		p.handleAck(rec, m)

	case protocol.UnsubscribeAck:
		if !m.OK {
			rec.logger.Debug("unsubscribe rejected", "request_id", m.ID)
		}

	case protocol.Notification:
		addr, ok := rec.subs[m.SubscriptionID]
		if !ok {
			rec.logger.Debug("notification for unknown subscription", "subscription_id", m.SubscriptionID)
			return
		}
		if p.sink == nil {
			return
		}
		p.sink.Submit(model.TransactionEvent{
			Address:    addr,
			Signature:  m.Signature,
			Failed:     m.Failed(),
			Logs:       m.Logs,
			ConnID:     rec.id,
			ReceivedAt: e.msg.ReceivedAt.UnixMicro(),
		})

	case protocol.ErrorReply:
		p.metrics.IncProtocolError("error_reply")
		addr, ok := rec.requests[m.ID]
		if !ok {
			rec.logger.Warn("error reply", "request_id", m.ID, "code", m.Code, "message", m.Message)
			return
		}
		delete(rec.requests, m.ID)
		if b, bound := rec.wallets[addr]; bound && b.requestID == m.ID {
			delete(rec.wallets, addr)
			p.metrics.IncDropped("rejected")
		}
		rec.logger.Warn("subscribe rejected, wallet unbound",
			"address", addr,
			"code", m.Code,
			"message", m.Message,
		)

	case protocol.Unknown:
		rec.logger.Debug("discarding unrecognized frame", "size", len(m.Raw))
		p.metrics.IncProtocolError("unknown")
	}
}

func (p *Pool) handleAck(rec *record, ack protocol.Ack) {
	addr, ok := rec.requests[ack.ID]
	if !ok {
		rec.logger.Debug("ack for unknown request", "request_id", ack.ID)
		return
	}
	delete(rec.requests, ack.ID)

	b, bound := rec.wallets[addr]
	if !bound || b.requestID != ack.ID {
		// Unbound while the request was in flight.
		p.unsubscribe(rec, ack.SubscriptionID)
		return
	}

	b.subscriptionID = ack.SubscriptionID
	rec.subs[ack.SubscriptionID] = addr
	rec.logger.Debug("subscribed", "address", addr, "subscription_id", ack.SubscriptionID)
}

// -----------------------------------------------------------------------------
// Shutdown and views
// -----------------------------------------------------------------------------

func (p *Pool) shutdown() {
	close(p.stopping)
	p.cancelRun()

	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}

	for _, rec := range p.sortedRecords() {
		for _, w := range rec.waiters {
			w.reply <- ErrClosed
		}
		rec.waiters = nil
		if rec.client != nil {
			if err := rec.client.Close(); err != nil {
				rec.logger.Debug("close error", "error", err)
			}
		}
		delete(p.records, rec.id)
	}

	p.wg.Wait()
	p.updateGauges()

	p.logger.Info("pool stopped")
}

func (p *Pool) sortedRecords() []*record {
	out := make([]*record, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (p *Pool) status() []ConnectionStatus {
	recs := p.sortedRecords()
	out := make([]ConnectionStatus, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.status())
	}
	return out
}

func (p *Pool) updateGauges() {
	if p.metrics == nil {
		return
	}
	byState := make(map[string]int)
	bound := 0
	for _, rec := range p.records {
		byState[rec.transportState().String()]++
		bound += len(rec.wallets)
	}
	p.metrics.SetConnections(byState)
	p.metrics.SetBoundWallets(bound)
	p.metrics.SetWatchedAddresses(p.registry.Len())
}
