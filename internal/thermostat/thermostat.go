// Package thermostat implements the thermostat controller (C8), the
// most intricate state machine in this codebase: three deadline timers
// plus one invariant deadline governing when the compressor is allowed
// to run, translated closely from tstat.c and generalised from that
// source's cool-only behaviour to the full heat/cool/off decision table
// described in the thermostat's external specification.
//
// Three behaviours below are carried over unchanged even though they
// look like bugs, because the controller this was translated from does
// exactly this and nothing has asked for it to be fixed: the startup
// compressor lockout, the now-skew in the compressor-off sequence, and
// fan-always-on's failure to reconsider a running post-cool spin. Each
// is called out at its call site.
package thermostat

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/tsclock"
)

// Timing constants, taken directly from tstat.c's defaults (values in
// milliseconds there: 10547, 42188, 337500, 1319).
const (
	fanBeforeCool = 10547 * time.Millisecond
	fanAfterCool  = 42188 * time.Millisecond
	shutoffDelay  = 337500 * time.Millisecond
	retryDelay    = 1319 * time.Millisecond
)

// DefaultHysteresisCentiC matches tstat.c's temp_hysteresis (in
// hundredths of a degree: 10 there was tenths, scaled here to the
// centi-degree unit this codebase uses throughout).
const DefaultHysteresisCentiC = 100

// EventTopic carries goal-snapshot events for newly joined subscribers.
// ControlTopic serves get/set-goals requests.
var (
	EventTopic   = bus.T("thermostat", "event")
	ControlTopic = bus.T("thermostat", "control")
)

// Controller holds the thermostat's goals and timer state. One exists
// per thermostat process.
type Controller struct {
	mu   sync.Mutex
	hw   RelayClient
	conn *bus.Connection

	goals       busproto.ControllerGoals
	fanAlwaysOn bool
	mode        busproto.ControllerMode

	earliestCompressor tsclock.Time
	turnFanOn          tsclock.Time
	turnCompressorOn   tsclock.Time
	turnFanOff         tsclock.Time
}

// New creates a Controller. earliestCompressor is armed shutoffDelay
// into the future at startup, matching ts_earliest_cool's initialisation
// in main() — the first compressor request after a process restart is
// subject to the full lockout even though nothing has actually run yet.
// This is deliberate upstream (a crash-restart loop must not bypass the
// lockout) and is preserved rather than special-cased away.
func New(conn *bus.Connection, hw RelayClient, goals busproto.ControllerGoals) *Controller {
	now := tsclock.Now()
	return &Controller{
		conn:               conn,
		hw:                 hw,
		goals:              goals,
		earliestCompressor: now.Add(shutoffDelay),
	}
}

// SetFanAlwaysOn updates the fan-always-on configuration. Per spec,
// changing it must either engage the fan immediately (if currently Off)
// or allow the normal sequencing to turn it off later — it does not
// retroactively cancel a post-cool spin already in progress, mirroring
// the original's behaviour noted in the package doc comment: toggling
// this while turnFanOff is pending just leaves that timer where it is,
// and when it fires with "fan always on" set, ProcessTimers clears it
// without turning the fan off. If the caller toggles this on during a
// post-cool spin, that spin therefore outlives its deadline (even if
// this is switched off again) until a later compressor-off sequence
// arms turnFanOff anew, which is surprising but intentional-by-inheritance.
func (c *Controller) SetFanAlwaysOn(ctx context.Context, on bool) {
	c.mu.Lock()
	wasOn := c.fanAlwaysOn
	c.fanAlwaysOn = on
	needsFanOn := on && !wasOn && c.mode == busproto.ModeOff && !c.turnFanOn.IsSet() && !c.turnCompressorOn.IsSet()
	c.mu.Unlock()
	if needsFanOn {
		if _, err := c.hw.SetWire(ctx, busproto.WireG, true); err != nil {
			log.Printf("thermostat: engaging fan for fan-always-on: %v", err)
		}
	}
}

// SetGoals replaces the configured setpoints and hysteresis, publishing
// the new goals as a retained Event so subscribers (including late
// joiners) observe the change.
func (c *Controller) SetGoals(goals busproto.ControllerGoals) {
	c.mu.Lock()
	c.goals = goals
	c.mu.Unlock()
	c.publishGoals()
}

// Goals returns the current setpoints and hysteresis.
func (c *Controller) Goals() busproto.ControllerGoals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goals
}

// publishGoals retains the current goals on EventTopic so a newly
// subscribed peer receives them immediately, per spec's "a newly
// subscribed peer receives one Event containing the current goals"
// snapshot requirement. A RequestReply carrying only Goals is reused as
// the payload shape here rather than introducing a separate type, since
// it already has exactly the field this needs.
func (c *Controller) publishGoals() {
	c.mu.Lock()
	goals := c.goals
	c.mu.Unlock()
	c.conn.Publish(c.conn.NewMessage(EventTopic, &busproto.RequestReply{Goals: &goals}, true))
}

// HandleRequest answers get/set-goals control requests.
func (c *Controller) HandleRequest(req *busproto.Request) *busproto.RequestReply {
	switch req.Kind {
	case busproto.RequestSetGoals:
		if req.SetGoals != nil {
			c.SetGoals(*req.SetGoals)
		}
		goals := c.Goals()
		return &busproto.RequestReply{Goals: &goals}
	case busproto.RequestGetGoals:
		goals := c.Goals()
		return &busproto.RequestReply{Goals: &goals}
	default:
		return &busproto.RequestReply{}
	}
}

// ServeLocalControl answers control requests published on ControlTopic
// until ctx is cancelled.
func (c *Controller) ServeLocalControl(ctx context.Context) {
	sub := c.conn.Subscribe(ControlTopic)
	defer c.conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			req, ok := msg.Payload.(*busproto.Request)
			if !ok {
				continue
			}
			c.conn.Reply(msg, c.HandleRequest(req))
		}
	}
}

// OnWeather applies one weather reading to the decision table (spec
// §4.8's Decision table) and begins whichever sequence it calls for, if
// any.
func (c *Controller) OnWeather(ctx context.Context, r busproto.WeatherReading) {
	c.mu.Lock()
	mode := c.mode
	goalLow := c.goals.HeatSetpointCentiC
	goalHigh := c.goals.CoolSetpointCentiC
	hyst := c.goals.HysteresisCentiC
	t := r.TemperatureCentiC
	c.mu.Unlock()

	now := tsclock.Now()
	switch {
	case mode == busproto.ModeCool && t < goalHigh-hyst:
		c.beginCompressorOff(ctx, now)
	case mode == busproto.ModeHeat && t > goalLow+hyst:
		c.beginCompressorOff(ctx, now)
	case mode == busproto.ModeOff && t > goalHigh+hyst:
		c.beginCompressorOn(busproto.ModeCool)
	case mode == busproto.ModeOff && t < goalLow-hyst:
		c.beginCompressorOn(busproto.ModeHeat)
	}
}

// beginCompressorOn implements the "Compressor-on sequence" of spec
// §4.8. earliestCompressor is never reset here — it continues to
// govern how early the compressor may re-engage regardless of how many
// times the controller flips Off→On in the meantime.
func (c *Controller) beginCompressorOn(newMode busproto.ControllerMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = newMode
	if c.turnFanOff.IsSet() {
		c.turnCompressorOn = c.earliestCompressor
		c.turnFanOff.Clear()
	} else {
		c.turnFanOn = c.earliestCompressor
	}
}

// beginCompressorOff implements the "Compressor-off sequence" of spec
// §4.8, including the documented now-skew: the deadline that stops the
// already-running fan (turnFanOff, in the third branch) is computed from
// a freshly read monotonic instant rather than the now passed in by the
// caller, while earliestCompressor still uses the caller's now. This
// mirrors read_weather's local struct timespec ts_now redeclaration in
// the third branch of its compressor-off handling, which shadows the
// outer parameter only for the fan_after_cool computation and not for
// the shutoff-delay computation that follows it. It produces a small,
// apparently unintentional skew between the two deadlines; it is left
// as-is rather than unified.
func (c *Controller) beginCompressorOff(ctx context.Context, now tsclock.Time) {
	c.mu.Lock()
	switch {
	case c.turnFanOn.IsSet():
		// Fan never actually turned on: just cancel it.
		c.turnFanOn.Clear()
		c.mode = busproto.ModeOff
		c.mu.Unlock()
		return
	case c.turnCompressorOn.IsSet():
		// Compressor never actually started: stop the fan, don't touch
		// the wires.
		c.turnCompressorOn.Clear()
		c.turnFanOff = now
		c.mode = busproto.ModeOff
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Compressor was actually running: issue the off requests.
	okY1, errY1 := c.hw.SetWire(ctx, busproto.WireY1, false)
	okOB, errOB := c.hw.SetWire(ctx, busproto.WireOB, false)
	if errY1 != nil || errOB != nil {
		log.Printf("thermostat: turning off compressor: Y1 err=%v OB err=%v", errY1, errOB)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if okY1 && okOB {
		c.mode = busproto.ModeOff
		freshNow := tsclock.Now()
		c.turnFanOff = freshNow.Add(fanAfterCool)
	} else {
		log.Printf("thermostat: WARNING: failed to turn off compressor")
	}
	c.earliestCompressor = now.Add(shutoffDelay)
}

// ProcessTimers fires whichever of the three timers has passed, in the
// fixed order the spec mandates (turnFanOn, then turnCompressorOn, then
// turnFanOff), and returns how long the caller's loop should wait before
// calling ProcessTimers again — the Go analogue of timespec_to_timeout_ms
// feeding a poll() call. A negative return means "no deadline armed,
// wait indefinitely for the next event".
func (c *Controller) ProcessTimers(ctx context.Context, now tsclock.Time) time.Duration {
	timeout := time.Duration(1<<63 - 1) // no deadline yet; reduced below

	c.mu.Lock()
	fanOnDeadline := c.turnFanOn
	c.mu.Unlock()
	if tsclock.Passed(fanOnDeadline, now, &timeout) {
		c.fireFanOn(ctx, now, &timeout)
	}

	c.mu.Lock()
	compOnDeadline := c.turnCompressorOn
	c.mu.Unlock()
	if tsclock.Passed(compOnDeadline, now, &timeout) {
		c.fireCompressorOn(ctx, now, &timeout)
	}

	c.mu.Lock()
	fanOffDeadline := c.turnFanOff
	c.mu.Unlock()
	if tsclock.Passed(fanOffDeadline, now, &timeout) {
		c.fireFanOff(ctx, now, &timeout)
	}

	if timeout == time.Duration(1<<63-1) {
		return -1
	}
	return timeout
}

func (c *Controller) fireFanOn(ctx context.Context, now tsclock.Time, timeout *time.Duration) {
	ok, err := c.hw.SetWire(ctx, busproto.WireG, true)
	if err != nil {
		log.Printf("thermostat: turning on fan: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.turnFanOn.Clear()
		c.turnCompressorOn = now.Add(fanBeforeCool)
	} else {
		*timeout = retryDelay
	}
}

func (c *Controller) fireCompressorOn(ctx context.Context, now tsclock.Time, timeout *time.Duration) {
	c.mu.Lock()
	ob := c.mode == busproto.ModeCool
	c.mu.Unlock()

	okOB, errOB := c.hw.SetWire(ctx, busproto.WireOB, ob)
	okY1, errY1 := c.hw.SetWire(ctx, busproto.WireY1, true)
	if errOB != nil || errY1 != nil {
		log.Printf("thermostat: turning on compressor: OB err=%v Y1 err=%v", errOB, errY1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if okOB && okY1 {
		c.turnCompressorOn.Clear()
		return
	}
	// Best-effort: put both wires back off before retrying.
	if _, err := c.hw.SetWire(ctx, busproto.WireY1, false); err != nil {
		log.Printf("thermostat: reverting Y1 after failed compressor-on: %v", err)
	}
	if _, err := c.hw.SetWire(ctx, busproto.WireOB, false); err != nil {
		log.Printf("thermostat: reverting OB after failed compressor-on: %v", err)
	}
	*timeout = retryDelay
}

// fireFanOff implements the "turn_fan_off passed" timer, including the
// documented fan-always-on quirk: with fan-always-on set, the timer is
// cleared and the fan left on without re-checking anything, so toggling
// fan-always-on while a post-cool spin is in progress silently extends
// that spin: once this branch has cleared turnFanOff, nothing turns the
// fan off until a later compressor-off sequence arms the timer again.
func (c *Controller) fireFanOff(ctx context.Context, now tsclock.Time, timeout *time.Duration) {
	c.mu.Lock()
	if c.fanAlwaysOn {
		c.turnFanOff.Clear()
		c.mu.Unlock()
		return
	}
	c.earliestCompressor = now.Add(shutoffDelay)
	c.mu.Unlock()

	ok, err := c.hw.SetWire(ctx, busproto.WireG, false)
	if err != nil {
		log.Printf("thermostat: turning off fan: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.turnFanOff.Clear()
	} else {
		*timeout = retryDelay
	}
}

// Run drives the cooperative loop: it waits for the nearer of a weather
// reading, a control request or the next timer deadline, processes
// whichever occurred, and repeats until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, weather <-chan busproto.WeatherReading) error {
	go c.ServeLocalControl(ctx)
	c.publishGoals()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		timeout := c.ProcessTimers(ctx, tsclock.Now())
		var wait <-chan time.Time
		if timeout >= 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
			wait = timer.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-weather:
			c.OnWeather(ctx, r)
		case <-wait:
			// loop around; ProcessTimers will fire whatever is due
		}
	}
}
