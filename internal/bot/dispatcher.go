package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"whizbot/internal/config"
	"whizbot/internal/storage"
	kit "whizbot/internal/transport"
	logx "whizbot/pkg/logx"
)

const apologyText = "Oops! An error occurred while processing your command. Please try again later."

// Options tune the dispatch worker pool.
type Options struct {
	Workers        int           // default: NumCPU, min 2
	QueueSize      int           // default: 256
	HandlerTimeout time.Duration // default timeout for commands without their own
}

// Dispatcher routes inbound messages to command handlers.
//
// Unknown command names are ignored silently: in a group chat most prefixed
// text is not addressed to this bot. Handler failures (errors and panics)
// are contained at this boundary and answered with a single generic apology;
// the dispatch loop itself never dies on a handler.
type Dispatcher struct {
	reg *Registry
	res *Resolver

	adapter kit.Adapter
	cfgm    *config.Manager
	serv    *Services
	log     logx.Logger
	opt     Options

	mu     sync.RWMutex
	owners []int64

	jobs chan func()
}

func NewDispatcher(log logx.Logger, adapter kit.Adapter, cfgm *config.Manager, serv *Services, owners []int64, reg *Registry, res *Resolver, opt Options) *Dispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	return &Dispatcher{
		reg:     reg,
		res:     res,
		adapter: adapter,
		cfgm:    cfgm,
		serv:    serv,
		log:     log.With(logx.String("comp", "dispatch")),
		opt:     opt,
		owners:  append([]int64(nil), owners...),
		jobs:    make(chan func(), opt.QueueSize),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (d *Dispatcher) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	d.mu.Lock()
	d.owners = cp
	d.mu.Unlock()
}

func (d *Dispatcher) ownersSnapshot() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]int64(nil), d.owners...)
}

// DispatchLoop consumes inbound messages until ctx is canceled or the
// channel closes. Handlers run on a bounded worker pool so concurrent
// commands proceed in parallel without unbounded goroutine growth.
func (d *Dispatcher) DispatchLoop(ctx context.Context, msgs <-chan kit.Message) error {
	workers := d.opt.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 2 {
		workers = 2
	}

	d.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(d.jobs)))

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)
	closeJobs := func() { closeOnce.Do(func() { close(d.jobs) }) }

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("panic in dispatch worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-d.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		}()
	}

	defer func() {
		closeJobs()
		wg.Wait()
		d.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				d.log.Info("dispatcher stopped (updates channel closed)")
				return nil
			}
			d.routeMessage(ctx, msg)
		}
	}
}

func (d *Dispatcher) routeMessage(root context.Context, msg kit.Message) {
	name, args, argText, ok := d.res.Resolve(msg.Text)
	if !ok {
		return
	}

	cmd, ok := d.reg.Lookup(name)
	if !ok {
		// Not addressed to us; stay quiet.
		d.log.Debug("unknown command ignored", logx.String("cmd", name), logx.Int64("chat_id", msg.ChatID))
		return
	}

	owners := d.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		d.log.Debug("owner-only command ignored", logx.String("cmd", cmd.Name), logx.Int64("from_id", msg.FromID))
		return
	}

	rid := newReqID()
	reqLog := d.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)

	req := &Request{
		Msg:      msg,
		Chat:     msg.Chat(),
		FromID:   msg.FromID,
		Command:  cmd.Name,
		Args:     args,
		ArgText:  argText,
		ReqID:    rid,
		Adapter:  d.adapter,
		Config:   d.cfgm.Get(),
		Logger:   reqLog,
		Services: d.serv,
		Owners:   owners,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = d.opt.HandlerTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWTimeout(timeout),
	)

	job := func() {
		start := time.Now()
		err := final(root, req)
		if err != nil {
			// Exactly one generic apology; details stay in the log.
			_ = req.Reply(root, apologyText)
		}
		d.audit(root, req, err, time.Since(start))
	}

	select {
	case d.jobs <- job:
	default:
		_, _ = d.adapter.SendText(root, req.Chat, "busy, try again", nil)
	}
}

func (d *Dispatcher) audit(ctx context.Context, req *Request, herr error, took time.Duration) {
	st := d.serv.Audit
	if st == nil {
		return
	}
	e := storage.AuditEntry{
		Kind:    "command",
		Owner:   req.ChatKey(),
		ChatID:  req.Chat.ChatID,
		FromID:  req.FromID,
		Command: req.Command,
		Args:    req.ArgText,
		OK:      herr == nil,
		TookMS:  took.Milliseconds(),
	}
	if herr != nil {
		e.Error = herr.Error()
	}
	actx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := st.AppendAudit(actx, e); err != nil {
		d.log.Debug("audit append failed", logx.Err(err))
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
