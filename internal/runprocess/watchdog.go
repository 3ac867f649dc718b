package runprocess

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/channeladapter"
)

// resetWatchdog (re)arms the idle timer. Called once after submission
// and again on every Delta/Action via touchActivity's caller (spec
// §4.4: "a timer is reset on every Delta/Action").
func (p *Process) resetWatchdog(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watchdogTimer != nil {
		p.watchdogTimer.Stop()
	}
	limit := p.deps.Config.WatchdogIdleLimit
	if limit <= 0 {
		return
	}
	p.watchdogTimer = time.AfterFunc(limit, func() { p.onWatchdogFire(ctx) })
}

func (p *Process) stopWatchdog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watchdogTimer != nil {
		p.watchdogTimer.Stop()
		p.watchdogTimer = nil
	}
}

// onWatchdogFire runs when the idle limit elapses with no Delta/Action
// activity. Interactive channels get a chance to say "keep waiting";
// everything else is cancelled outright (spec §4.4 watchdog).
func (p *Process) onWatchdogFire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if kr, ok := p.channelAdp.(channeladapter.KeepaliveRequester); ok {
		keepWaiting := kr.RequestKeepalive(p.sessionKey, p.channel, p.deps.Config.WatchdogConfirmTimeout)
		if keepWaiting {
			p.resetWatchdog(ctx)
			return
		}
	}

	p.Cancel("idle watchdog")
}
