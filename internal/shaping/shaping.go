// Package shaping installs and removes a per-peer inbound rate limit.
//
// Inbound packets from the peer are intercepted by an ingress qdisc on the
// physical interface, redirected with a mirred action to an ifb device, and
// rate limited there by a token bucket filter. Ingress qdiscs cannot carry
// classful or rate limiting disciplines, hence the ifb hop.
package shaping

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"shapebench/internal/logger"
)

const (
	ingressHandle = "ffff:"
	clearTimeout  = 10 * time.Second
)

type Options struct {
	Iface   string
	IFB     string
	Burst   string
	Latency string
}

// Controller owns the kernel shaping state for one interface. At most one
// Limit is live at a time.
type Controller struct {
	opts     Options
	cmd      Commander
	resolver *net.Resolver

	mu     sync.Mutex
	active *Limit
}

func NewController(opts Options, cmd Commander) *Controller {
	if opts.Burst == "" {
		opts.Burst = "10k"
	}
	if opts.Latency == "" {
		opts.Latency = "1000ms"
	}
	return &Controller{
		opts:     opts,
		cmd:      cmd,
		resolver: net.DefaultResolver,
	}
}

// Limit is the handle to installed shaping state. Clear releases it; further
// Clear calls are no-ops.
type Limit struct {
	ctrl     *Controller
	RateMbit int
	Peer     net.IP

	once    sync.Once
	cleared atomic.Bool
}

// Apply resets any stale shaping state and installs an inbound limit of
// rateMbit for traffic whose source is peer. The returned Limit is non-nil
// even when err is non-nil, so the caller can always release partial state
// with Clear.
func (c *Controller) Apply(ctx context.Context, rateMbit int, peer string) (*Limit, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		busy := &Limit{ctrl: c, RateMbit: rateMbit}
		busy.cleared.Store(true)
		return busy, ErrBusy
	}
	l := &Limit{ctrl: c, RateMbit: rateMbit}
	c.active = l
	c.mu.Unlock()

	log := logger.Logger(ctx)
	log.Info().Int("rate_mbit", rateMbit).Str("iface", c.opts.Iface).Str("peer", peer).
		Msg("setting inbound bandwidth limit")

	ip, err := c.resolvePeer(ctx, peer)
	if err != nil {
		return l, &ShapingError{Step: "resolve peer", Cmd: peer, Err: err}
	}
	l.Peer = ip

	if _, err := c.cmd.Run(ctx, "modprobe", "ifb"); err != nil {
		log.Debug().Err(err).Msg("modprobe ifb failed, assuming the module is built in")
	}
	c.reset(ctx)

	steps := []struct {
		name string
		argv []string
	}{
		{"create ifb device", []string{"ip", "link", "add", c.opts.IFB, "type", "ifb"}},
		{"bring ifb device up", []string{"ip", "link", "set", c.opts.IFB, "up"}},
		{"install ingress qdisc", []string{"tc", "qdisc", "add", "dev", c.opts.Iface, "handle", ingressHandle, "ingress"}},
		{"install redirect filter", []string{
			"tc", "filter", "add", "dev", c.opts.Iface, "parent", ingressHandle, "protocol", "ip", "u32",
			"match", "ip", "src", ip.String() + "/32",
			"action", "mirred", "egress", "redirect", "dev", c.opts.IFB,
		}},
		{"install token bucket", []string{
			"tc", "qdisc", "add", "dev", c.opts.IFB, "root", "tbf",
			"rate", fmt.Sprintf("%dmbit", rateMbit), "burst", c.opts.Burst, "latency", c.opts.Latency,
		}},
	}
	for _, s := range steps {
		out, err := c.cmd.Run(ctx, s.argv[0], s.argv[1:]...)
		if err != nil {
			return l, &ShapingError{Step: s.name, Cmd: strings.Join(s.argv, " "), Output: out, Err: err}
		}
	}
	return l, nil
}

// Clear removes the shaping state behind l. It never fails and runs at most
// once per Limit, even with a cancelled ctx.
func (l *Limit) Clear(ctx context.Context) {
	if l == nil || l.cleared.Load() {
		return
	}
	l.once.Do(func() {
		l.ctrl.clear(ctx)
		l.ctrl.release(l)
		l.cleared.Store(true)
	})
}

// Teardown clears the live Limit, if any. It is the abort-path counterpart of
// Limit.Clear and does nothing when the owner already cleared.
func (c *Controller) Teardown(ctx context.Context) {
	c.mu.Lock()
	l := c.active
	c.mu.Unlock()
	if l != nil {
		l.Clear(ctx)
	}
}

// Reset unconditionally removes any shaping state on the configured devices,
// including state left behind by a crashed run.
func (c *Controller) Reset(ctx context.Context) {
	c.Teardown(ctx)
	c.clear(ctx)
}

// Active reports whether a Limit is currently installed.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Controller) release(l *Limit) {
	c.mu.Lock()
	if c.active == l {
		c.active = nil
	}
	c.mu.Unlock()
}

func (c *Controller) clear(ctx context.Context) {
	logger.Logger(ctx).Info().Str("iface", c.opts.Iface).Str("ifb", c.opts.IFB).Msg("clearing inbound bandwidth limit")
	c.teardown(ctx)
}

// reset is the idempotent prelude of Apply.
func (c *Controller) reset(ctx context.Context) {
	c.ignore(ctx, "ip", "link", "del", c.opts.IFB)
	c.ignore(ctx, "tc", "qdisc", "del", "dev", c.opts.Iface, "ingress")
	c.ignore(ctx, "tc", "qdisc", "del", "dev", c.opts.IFB, "root")
}

// teardown runs detached from ctx cancellation so interrupted runs still
// release kernel state.
func (c *Controller) teardown(ctx context.Context) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
	defer cancel()
	c.ignore(cctx, "tc", "qdisc", "del", "dev", c.opts.Iface, "ingress")
	c.ignore(cctx, "tc", "qdisc", "del", "dev", c.opts.IFB, "root")
	c.ignore(cctx, "ip", "link", "del", c.opts.IFB)
}

func (c *Controller) ignore(ctx context.Context, name string, args ...string) {
	out, err := c.cmd.Run(ctx, name, args...)
	if err == nil {
		return
	}
	log := logger.Logger(ctx)
	var ev *zerolog.Event
	if isNotFound(out) {
		ev = log.Debug()
	} else {
		ev = log.Warn()
	}
	ev.Str("cmd", name+" "+strings.Join(args, " ")).Str("output", out).Err(err).Msg("ignoring teardown failure")
}

func (c *Controller) resolvePeer(ctx context.Context, peer string) (net.IP, error) {
	if ip := net.ParseIP(peer); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, errors.Errorf("peer %s is not an IPv4 address", peer)
	}
	addrs, err := c.resolver.LookupIPAddr(ctx, peer)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup %s", peer)
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, errors.Errorf("peer %s has no IPv4 address", peer)
}
