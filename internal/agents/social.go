package agents

// Cooldowns holds the remaining per-partner wait before two agents may talk again.
type Cooldowns map[AgentID]float64

// Start records a cooldown against partner.
func (c Cooldowns) Start(partner AgentID, d float64) {
	if d > 0 {
		c[partner] = d
	}
}

// Active reports whether partner is still on cooldown.
func (c Cooldowns) Active(partner AgentID) bool {
	return c[partner] > 0
}

// Update counts every cooldown down by dt.
func (c Cooldowns) Update(dt float64) {
	for id, left := range c {
		left -= dt
		if left <= 0 {
			delete(c, id)
			continue
		}
		c[id] = left
	}
}

// Available reports whether the agent is open to a conversation: moving about
// on its own, not frozen, and with stamina above the conversation threshold.
func (a *Agent) Available() bool {
	if a.state != StateRoaming && a.state != StateFollowingPath {
		return false
	}
	return !a.frozen && a.partner == nil && a.needs.Level() > a.params.Social.Threshold
}

// CanTalkWith reports whether a and b may pair up right now.
func (a *Agent) CanTalkWith(b *Agent) bool {
	if b == nil || a == b || !a.Available() || !b.Available() {
		return false
	}
	if a.cooldowns.Active(b.ID) || b.cooldowns.Active(a.ID) {
		return false
	}
	return a.Position().Dist(b.Position()) <= a.params.Social.Range
}

// BeginTalk pairs a and b. Each pays the conversation cost; if either cannot,
// nothing happens. Both enter Talking facing each other with a shared countdown.
func BeginTalk(a, b *Agent) bool {
	if !a.CanTalkWith(b) {
		return false
	}
	cost := a.params.Social.Cost
	if a.needs.Level() < cost || b.needs.Level() < cost {
		return false
	}
	a.needs.Consume(cost)
	b.needs.Consume(cost)
	a.beginTalk(b)
	b.beginTalk(a)
	return true
}

func (a *Agent) beginTalk(b *Agent) {
	a.partner = b
	if a.path != nil && a.state == StateFollowingPath {
		a.path.Pause()
	}
	a.hasDest = false
	if d := b.Position().Sub(a.Position()); d.Len() > 0 {
		a.facing = d.Normalize()
	}
	a.setState(StateTalking)
	a.freeze(a.params.Social.Duration)
}

// InterruptTalk ends a conversation early without recording a cooldown.
func (a *Agent) InterruptTalk() {
	if a.state == StateTalking {
		a.endTalk(false)
	}
}

// endTalk returns both partners home. A completed exchange records the cooldown
// in both directions.
func (a *Agent) endTalk(completed bool) {
	b := a.partner
	a.finishTalk(b, completed)
	if b != nil && b.partner == a {
		b.finishTalk(a, completed)
	}
	a.env.notify(Note{Kind: NoteTalkEnded, Agent: a, Partner: b})
}

func (a *Agent) finishTalk(b *Agent, completed bool) {
	a.partner = nil
	if completed && b != nil {
		a.cooldowns.Start(b.ID, a.params.Social.Cooldown)
	}
	a.Release()
	a.goHome()
}

// Partner returns the agent being talked to, if any.
func (a *Agent) Partner() *Agent { return a.partner }

// OnCooldownWith reports whether a must still wait before talking to b again.
func (a *Agent) OnCooldownWith(b *Agent) bool {
	return a.cooldowns.Active(b.ID)
}
