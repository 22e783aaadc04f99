// Per-agent state machine. Every tick an agent evaluates its current state,
// which may consult its NeedController and the resource broker.
package agents

import (
	"errors"

	"github.com/talgya/townsfolk/internal/world"
)

// Spec describes an agent at spawn.
type Spec struct {
	Name        string
	Mode        Mode
	Zone        world.ZoneID
	Caps        Capabilities
	ActiveHours Window // nil means always active
}

// Agent is a single simulated actor. It owns its need controller, its path
// follower (fixed-path mode only) and its cooldown table. Resource pointers it
// holds are non-owning.
type Agent struct {
	ID          AgentID
	Name        string
	Mode        Mode
	Zone        world.ZoneID
	Caps        Capabilities
	ActiveHours Window

	params    *Params
	env       *Env
	needs     *NeedController
	path      *PathFollower
	cooldowns Cooldowns

	spawned   bool
	state     State
	flags     Flags
	speedHint float64
	facing    world.Vec2

	// Travel.
	dest    world.Vec2
	hasDest bool
	recheck float64
	stall   float64

	// Need-driven travel.
	seeking    Category
	joinFailed bool
	research   float64
	slowed     bool

	// Queue.
	queuedAt *SharedResource
	slotPos  world.Vec2
	hasSlot  bool
	atSlot   bool

	// Freeze.
	frozen      bool
	timed       bool
	freezeTimer float64
	freezes     int
	releases    int

	idleRetry   float64
	descheduled bool
	partner     *Agent
}

// New creates an agent. It does nothing until Spawn places it.
func New(id AgentID, spec Spec, params *Params, env *Env) *Agent {
	a := &Agent{
		ID:          id,
		Name:        spec.Name,
		Mode:        spec.Mode,
		Zone:        spec.Zone,
		Caps:        spec.Caps,
		ActiveHours: spec.ActiveHours,
		params:      params,
		env:         env,
		needs:       NewNeedController(&params.Need),
		cooldowns:   make(Cooldowns),
		facing:      world.Vec2{X: 0, Y: 1},
	}
	if spec.Mode == ModeFixedPath {
		a.path = NewPathFollower(params.LaneOffset)
	}
	return a
}

func (a *Agent) body() world.BodyID { return world.BodyID(a.ID) }

// Spawn places the agent at pos and puts it in its initial state. An agent that
// cannot be placed on the walkable surface starts Idle.
func (a *Agent) Spawn(pos world.Vec2) {
	placed := a.env.Loco.Place(a.body(), pos)
	a.spawned = true
	a.state = StateRoaming
	if a.path != nil {
		a.state = StateFollowingPath
		a.path.Rejoin()
	}
	a.flags = flagsFor(a.state)
	a.applySpeed()
	if !placed {
		a.env.notify(Note{Kind: NotePlacement, Agent: a})
		a.enterIdle()
		return
	}
	if a.path != nil {
		if target, ok := a.path.Target(a.env.Area, a.Zone); ok {
			a.travelTo(target)
		}
	}
}

// Despawn takes the agent out of the world: it ends any conversation, gives up
// any queue place or resource, unfreezes and removes its locomotion body.
func (a *Agent) Despawn() {
	if !a.spawned {
		return
	}
	a.InterruptTalk()
	a.withdraw()
	a.clearTravel()
	a.Release()
	a.env.Loco.Remove(a.body())
	a.spawned = false
}

// Tick advances the agent by dt time units.
func (a *Agent) Tick(dt float64) {
	if !a.spawned {
		return
	}
	a.needs.Update(dt)
	a.cooldowns.Update(dt)
	a.trackStall(dt)

	if a.frozen && a.timed {
		a.freezeTimer -= dt
		if a.freezeTimer <= 0 {
			a.expireFreeze()
		}
	}

	if a.checkSchedule() {
		return
	}

	switch a.state {
	case StateRoaming:
		if a.checkPlacement() {
			a.roam(dt)
		}
	case StateFollowingPath:
		if a.checkPlacement() {
			a.followPath(dt)
		}
	case StateMovingToward:
		if a.checkPlacement() {
			a.moveToward(dt)
		}
	case StateWaitingInQueue:
		if a.checkPlacement() {
			a.waitInQueue()
		}
	case StateSitting, StateEating, StateSleeping:
		a.recoverAt(dt)
	case StateIdle:
		a.idle(dt)
	}
}

func (a *Agent) setState(s State) {
	if a.state == s {
		return
	}
	from := a.state
	a.state = s
	a.flags = flagsFor(s)
	a.applySpeed()
	a.env.notify(Note{Kind: NoteState, Agent: a, From: from, To: s})
}

func (a *Agent) applySpeed() {
	switch a.state {
	case StateIdle, StateSitting, StateSleeping, StateEating, StateTalking:
		a.speedHint = 0
		return
	}
	speed := a.params.Speed
	if a.slowed {
		speed *= a.params.SlowFactor
	}
	a.speedHint = speed
	a.env.Loco.SetSpeed(a.body(), speed)
}

// freeze stops locomotion. A positive timer releases the agent automatically
// when it runs out; otherwise Release must be called.
func (a *Agent) freeze(timer float64) {
	if !a.frozen {
		a.frozen = true
		a.freezes++
		a.env.Loco.SetStopped(a.body(), true)
	}
	a.freezeTimer = timer
	a.timed = timer > 0
}

// Release unfreezes the agent. Releasing an agent that is not frozen is a no-op.
func (a *Agent) Release() {
	if !a.frozen {
		return
	}
	a.frozen = false
	a.timed = false
	a.freezeTimer = 0
	a.releases++
	a.env.Loco.SetStopped(a.body(), false)
}

func (a *Agent) expireFreeze() {
	if a.state == StateTalking {
		a.endTalk(true)
		return
	}
	a.Release()
}

func (a *Agent) travelTo(p world.Vec2) {
	if !a.hasDest || a.dest != p {
		a.stall = 0
	}
	a.dest = p
	a.hasDest = true
	a.env.Loco.SetDestination(a.body(), p)
}

func (a *Agent) arrived(p world.Vec2) bool {
	return a.Position().Dist(p) <= a.params.RestRadius
}

func (a *Agent) trackStall(dt float64) {
	if a.frozen || !a.hasDest || a.arrived(a.dest) || a.env.Loco.Velocity(a.body()) > 1e-6 {
		a.stall = 0
		return
	}
	a.stall += dt
}

func (a *Agent) stalled() bool {
	return a.params.StallTimeout > 0 && a.stall >= a.params.StallTimeout
}

func (a *Agent) clearTravel() {
	a.needs.target = nil
	a.seeking = CategoryNone
	a.joinFailed = false
	a.research = 0
	a.slowed = false
	a.hasDest = false
	a.recheck = 0
	a.stall = 0
}

// checkPlacement sends an agent that has left the walkable surface to Idle.
func (a *Agent) checkPlacement() bool {
	if a.frozen || a.env.Loco.OnWalkableSurface(a.body()) {
		return true
	}
	a.env.notify(Note{Kind: NotePlacement, Agent: a})
	a.enterIdle()
	return false
}

func (a *Agent) roam(dt float64) {
	a.needs.Deplete(dt)
	if a.checkForStamina() {
		return
	}
	if a.hasDest && (a.arrived(a.dest) || a.stalled()) {
		a.hasDest = false
	}
	a.recheck -= dt
	if a.hasDest || a.recheck > 0 {
		return
	}
	a.recheck = a.params.RoamRecheck
	if a.env.Area == nil {
		return
	}
	if p, ok := a.env.Area.RandomPointInZone(a.Zone); ok {
		a.travelTo(p)
	}
}

func (a *Agent) followPath(dt float64) {
	a.needs.Deplete(dt)
	if a.checkForStamina() || a.env.Area == nil {
		return
	}
	f := a.path
	if f.Resuming() {
		target, ok := f.Target(a.env.Area, a.Zone)
		if !ok {
			return
		}
		if !a.arrived(target) && !a.stalled() {
			a.travelTo(target)
			return
		}
		f.resuming = false
	}
	f.Advance(a.params.Speed, a.env.Area.PathLength(a.Zone), dt)
	if target, ok := f.Target(a.env.Area, a.Zone); ok {
		a.travelTo(target)
	}
}

// checkForStamina starts travel to a recovery resource when a need is active.
// It reports whether the agent left its current state.
func (a *Agent) checkForStamina() bool {
	if a.needs.InGrace() {
		return false
	}
	cat := a.needs.Category(a.env.Clock)
	if cat == CategoryNone {
		return false
	}
	r := a.needs.FindRecoveryResource(a.Position(), a.Zone, cat, a.env.Broker)
	if r == nil {
		a.enterIdle()
		return true
	}
	a.headFor(cat, r)
	return true
}

func (a *Agent) headFor(cat Category, r *SharedResource) {
	if a.path != nil {
		a.path.Pause()
	}
	a.seeking = cat
	a.needs.target = r
	a.joinFailed = false
	a.travelTo(r.Position())
	a.setState(StateMovingToward)
}

func (a *Agent) moveToward(dt float64) {
	if a.joinFailed {
		a.research -= dt
		if a.research > 0 {
			return
		}
		a.joinFailed = false
		a.retarget()
		return
	}

	r := a.needs.target
	if r == nil {
		a.retarget()
		return
	}
	if a.stalled() {
		a.needs.Blacklist(r, a.params.Need.Blacklist)
		a.retarget()
		return
	}
	if a.Position().Dist(r.Position()) > a.params.ContactRadius {
		return
	}

	err := r.Admit(a)
	switch {
	case err == nil:
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrUnavailable):
		a.joinFailed = true
		a.research = a.params.ResearchDelay
		a.slowed = true
		a.applySpeed()
	default:
		a.goHome()
	}
}

// retarget repeats resource discovery for whatever need is active now.
func (a *Agent) retarget() {
	cat := a.needs.Category(a.env.Clock)
	if cat == CategoryNone {
		a.goHome()
		return
	}
	r := a.needs.FindRecoveryResource(a.Position(), a.Zone, cat, a.env.Broker)
	if r == nil {
		a.enterIdle()
		return
	}
	a.headFor(cat, r)
}

// enterQueue is called by a resource that accepted the agent into its queue.
func (a *Agent) enterQueue(r *SharedResource) {
	a.queuedAt = r
	a.hasSlot = false
	a.atSlot = false
	a.setState(StateWaitingInQueue)
}

// assignSlot is called by a resource whenever its queue changes.
func (a *Agent) assignSlot(_ int, pos world.Vec2, priority int) {
	a.env.Loco.SetPriority(a.body(), priority)
	if a.hasSlot && a.slotPos == pos {
		return
	}
	a.slotPos = pos
	a.hasSlot = true
	if a.atSlot {
		a.atSlot = false
		a.Release()
	}
	a.travelTo(pos)
}

func (a *Agent) waitInQueue() {
	if a.atSlot || !a.hasSlot {
		return
	}
	if !a.arrived(a.slotPos) && !a.stalled() {
		return
	}
	a.atSlot = true
	a.hasDest = false
	if r := a.queuedAt; r != nil {
		if d := r.Position().Sub(a.Position()); d.Len() > 0 {
			a.facing = d.Normalize()
		}
	}
	a.freeze(0)
}

// beginUse is called by a resource that promoted the agent to occupant.
func (a *Agent) beginUse(r *SharedResource) {
	a.queuedAt = nil
	a.hasSlot = false
	a.atSlot = false
	a.clearTravel()
	a.needs.current = r
	a.env.Loco.Place(a.body(), r.Position())
	a.env.Loco.SetPriority(a.body(), 0)
	a.facing = r.facing()
	a.setState(r.Category().activeState())
	a.freeze(0)
}

func (a *Agent) recoverAt(dt float64) {
	r := a.needs.current
	if r == nil {
		return
	}
	rate := a.params.Need.Recovery
	if d := r.spec.Duration; d > 0 {
		rate += r.spec.Recovery / d
	}
	a.needs.Recover(rate * dt)
}

// endUse is the resource's leave protocol.
func (a *Agent) endUse(r *SharedResource) {
	a.needs.current = nil
	a.Release()
	a.env.Loco.Place(a.body(), r.ExitPoint())
	a.needs.StartGrace()
	a.goHome()
}

// goHome returns the agent to its mode's default state.
func (a *Agent) goHome() {
	a.clearTravel()
	a.env.Loco.SetPriority(a.body(), 0)
	if a.path == nil {
		a.setState(StateRoaming)
		return
	}
	if a.path.Paused() {
		a.path.Resume()
	} else {
		a.path.Rejoin()
	}
	a.setState(StateFollowingPath)
	if target, ok := a.path.Target(a.env.Area, a.Zone); ok {
		a.travelTo(target)
	}
}

// withdraw gives up any queue place or occupancy.
func (a *Agent) withdraw() {
	if r := a.queuedAt; r != nil {
		r.Withdraw(a)
	}
	if r := a.needs.current; r != nil {
		r.Withdraw(a)
	}
	a.hasSlot = false
	a.atSlot = false
}

func (a *Agent) enterIdle() {
	a.withdraw()
	a.clearTravel()
	if a.path != nil {
		a.path.Pause()
	}
	a.idleRetry = a.params.IdleRetry
	a.setState(StateIdle)
	a.freeze(0)
}

func (a *Agent) exitIdle() {
	a.Release()
	a.goHome()
}

func (a *Agent) idle(dt float64) {
	a.needs.Recover(a.params.Need.IdleRecovery * dt)
	if a.descheduled {
		return
	}
	a.idleRetry -= dt
	if a.idleRetry > 0 {
		return
	}
	a.idleRetry = a.params.IdleRetry

	if !a.env.Loco.OnWalkableSurface(a.body()) && !a.replace() {
		return
	}
	cat := a.needs.Category(a.env.Clock)
	if cat == CategoryNone {
		if a.needs.Ratio() >= a.params.IdleExitRatio {
			a.exitIdle()
		}
		return
	}
	if r := a.needs.FindRecoveryResource(a.Position(), a.Zone, cat, a.env.Broker); r != nil {
		a.Release()
		a.headFor(cat, r)
	}
}

// replace tries to put the agent back on the walkable surface.
func (a *Agent) replace() bool {
	if a.env.Area == nil {
		return false
	}
	var (
		p  world.Vec2
		ok bool
	)
	if a.path != nil {
		p, _, ok = a.env.Area.EvaluatePath(a.Zone, a.path.memP)
	} else {
		p, ok = a.env.Area.RandomPointInZone(a.Zone)
	}
	if !ok {
		return false
	}
	return a.env.Loco.Place(a.body(), p)
}

// checkSchedule deschedules the agent outside its active hours. It reports
// whether the agent changed state.
func (a *Agent) checkSchedule() bool {
	if a.ActiveHours == nil {
		return false
	}
	hour, ok := a.env.timeOfDay()
	if !ok {
		return false
	}
	active := a.ActiveHours.Active(hour)
	switch {
	case !active && !a.descheduled:
		a.descheduled = true
		a.InterruptTalk()
		a.enterIdle()
		return true
	case active && a.descheduled:
		a.descheduled = false
		a.exitIdle()
		return true
	}
	return false
}

// State returns the agent's behavioral state.
func (a *Agent) State() State { return a.state }

// Flags returns the presentation flags for the current state.
func (a *Agent) Flags() Flags { return a.flags }

// SpeedHint returns the locomotion speed for the current state; 0 when stationary.
func (a *Agent) SpeedHint() float64 { return a.speedHint }

// Needs returns the agent's need controller.
func (a *Agent) Needs() *NeedController { return a.needs }

// Path returns the path follower, or nil for free-roam agents.
func (a *Agent) Path() *PathFollower { return a.path }

// Position returns the agent's location as reported by locomotion.
func (a *Agent) Position() world.Vec2 { return a.env.Loco.Position(a.body()) }

// Velocity returns the agent's current speed as reported by locomotion.
func (a *Agent) Velocity() float64 { return a.env.Loco.Velocity(a.body()) }

// Facing returns the direction the agent is oriented toward.
func (a *Agent) Facing() world.Vec2 { return a.facing }

// Destination returns the point the agent is traveling to, if any.
func (a *Agent) Destination() (world.Vec2, bool) { return a.dest, a.hasDest }

// Frozen reports whether locomotion is currently stopped by a freeze.
func (a *Agent) Frozen() bool { return a.frozen }

// FreezeCounts returns how many times the agent has been frozen and released.
func (a *Agent) FreezeCounts() (freezes, releases int) { return a.freezes, a.releases }

// QueuedAt returns the resource the agent is waiting at, if any.
func (a *Agent) QueuedAt() *SharedResource { return a.queuedAt }

// Spawned reports whether the agent is in the world.
func (a *Agent) Spawned() bool { return a.spawned }

// Descheduled reports whether the agent is idling outside its active hours.
func (a *Agent) Descheduled() bool { return a.descheduled }
