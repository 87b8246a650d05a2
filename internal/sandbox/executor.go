package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/clock/system"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

const (
	defaultTimeout   = 10 * time.Second
	maxCallStackSize = 1024
)

// Config controls routine execution.
type Config struct {
	// Timeout bounds one execution including every page call it makes.
	Timeout time.Duration
	// CacheSize is the number of compiled routines kept. Zero disables caching.
	CacheSize int
	// ScreenshotPrefix is prepended to screenshot object paths.
	ScreenshotPrefix string
	// Location is used by util.formatDate. Defaults to time.Local.
	Location *time.Location
}

// Executor compiles and runs extraction routines.
type Executor struct {
	cfg    Config
	cache  *programCache
	blobs  watchlist.BlobStore
	clock  watchlist.Clock
	logger *zap.Logger
}

// New builds an Executor. blobs may be nil, in which case page.screenshot throws.
func New(cfg Config, hasher Hasher, blobs watchlist.BlobStore, clock watchlist.Clock, logger *zap.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheSize < 0 {
		cfg.CacheSize = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:    cfg,
		cache:  newProgramCache(cfg.CacheSize, hasher),
		blobs:  blobs,
		clock:  clock,
		logger: logger,
	}
}

// Execute runs source against page and returns the validated observation.
// Every failure wraps watchlist.ErrExtractionFailed and is logged at debug
// level together with the routine source. A panic raised while running the
// routine is reported as a failure of this call only.
func (e *Executor) Execute(ctx context.Context, domain, source string, page watchlist.Page) (obs watchlist.Observation, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			obs, err = watchlist.Observation{}, fmt.Errorf("routine panicked: %s", panicMessage(r))
		}
		metrics.ObserveExtraction(domain, err == nil, time.Since(start))
		if err != nil {
			e.logger.Debug("extraction routine failed",
				zap.String("domain", domain),
				zap.String("url", page.URL()),
				zap.String("routine", source),
				zap.Error(err),
			)
			err = fmt.Errorf("%w: %w", watchlist.ErrExtractionFailed, err)
		}
	}()
	return e.execute(ctx, domain, source, page)
}

func (e *Executor) execute(ctx context.Context, domain, source string, page watchlist.Page) (watchlist.Observation, error) {
	prog, err := e.cache.program(domain, source)
	if err != nil {
		return watchlist.Observation{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)
	stop := context.AfterFunc(runCtx, func() {
		vm.Interrupt(runCtx.Err())
	})
	defer stop()

	b := &binding{
		ctx:    runCtx,
		vm:     vm,
		page:   page,
		domain: domain,
		exec:   e,
	}
	if err := b.install(); err != nil {
		return watchlist.Observation{}, err
	}

	fnVal, err := vm.RunProgram(prog)
	if err != nil {
		return watchlist.Observation{}, fmt.Errorf("run routine: %w", b.runError(err))
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return watchlist.Observation{}, errors.New("routine did not compile to a function")
	}
	pageObj, err := b.pageObject()
	if err != nil {
		return watchlist.Observation{}, err
	}
	utilObj, err := b.utilObject()
	if err != nil {
		return watchlist.Observation{}, err
	}

	ret, err := fn(goja.Undefined(), pageObj, utilObj)
	if err != nil {
		return watchlist.Observation{}, fmt.Errorf("run routine: %w", b.runError(err))
	}

	// Reading the result can run getters, proxy traps and toString.
	var obs watchlist.Observation
	err = b.guard(func() error {
		result, err := b.settle(ret)
		if err != nil {
			return err
		}
		obs, err = b.decodeObservation(result)
		return err
	})
	if err != nil {
		return watchlist.Observation{}, err
	}
	return obs, nil
}

// settle unwraps the promise returned by the async routine. Host calls are
// synchronous, so by the time the call returns the job queue has drained and
// a still-pending promise can never resolve.
func (b *binding) settle(ret goja.Value) (goja.Value, error) {
	promise, ok := ret.Export().(*goja.Promise)
	if !ok {
		return ret, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		reason := b.describe(promise.Result())
		if err := b.ctx.Err(); err != nil {
			return nil, fmt.Errorf("routine rejected after %w: %s", err, reason)
		}
		return nil, fmt.Errorf("routine rejected: %s", reason)
	default:
		return nil, errors.New("routine never settled")
	}
}

// call runs fn as a host function, so exceptions and interrupts raised by
// user code that fn reaches come back as errors rather than panics.
func (b *binding) call(fn func() error) error {
	if err := b.ctx.Err(); err != nil {
		return err
	}
	var inner error
	host := b.vm.ToValue(func(goja.FunctionCall) goja.Value {
		inner = fn()
		return goja.Undefined()
	})
	if _, err := b.trampoline(goja.Undefined(), host); err != nil {
		return err
	}
	return inner
}

func (b *binding) guard(fn func() error) error {
	return b.runError(b.call(fn))
}

// describe renders a thrown value. Values whose rendering fails are
// reported generically.
func (b *binding) describe(v goja.Value) string {
	msg := "exception"
	_ = b.call(func() error {
		if v != nil {
			msg = v.String()
		}
		return nil
	})
	return msg
}

// runError converts runtime errors into plain errors that stay safe to
// format once the runtime is gone. Other errors pass through.
func (b *binding) runError(err error) error {
	switch e := err.(type) {
	case nil:
		return nil
	case *goja.InterruptedError:
		if ctxErr := b.ctx.Err(); ctxErr != nil {
			return fmt.Errorf("routine interrupted: %w", ctxErr)
		}
		return fmt.Errorf("routine interrupted: %v", e.Value())
	case *goja.Exception:
		return fmt.Errorf("uncaught %s", b.describe(e.Value()))
	default:
		return err
	}
}

func (b *binding) decodeObservation(v goja.Value) (watchlist.Observation, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return watchlist.Observation{}, errors.New("routine returned no result")
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return watchlist.Observation{}, fmt.Errorf("routine returned %s, want {price, discount}", v.String())
	}
	if class := obj.ClassName(); class != "Object" {
		return watchlist.Observation{}, fmt.Errorf("routine returned a %s, want {price, discount}", class)
	}
	if err := b.checkKeys(obj, "price", "discount"); err != nil {
		return watchlist.Observation{}, err
	}
	price, err := centsOf(obj.Get("price"))
	if err != nil {
		return watchlist.Observation{}, fmt.Errorf("price: %w", err)
	}
	discount, err := centsOf(obj.Get("discount"))
	if err != nil {
		return watchlist.Observation{}, fmt.Errorf("discount: %w", err)
	}
	return watchlist.Observation{Price: price, Discount: discount}, nil
}

// checkKeys requires the own keys of obj, including non-enumerable and
// symbol keys, to be exactly want.
func (b *binding) checkKeys(obj *goja.Object, want ...string) error {
	keysVal, err := b.ownKeys(goja.Undefined(), obj)
	if err != nil {
		return err
	}
	keys, ok := keysVal.(*goja.Object)
	if !ok {
		return errors.New("routine result has no keys")
	}
	n := keys.Get("length").ToInteger()
	mismatch := fmt.Errorf("routine returned %d own keys, want exactly %v", n, want)
	if n != int64(len(want)) {
		return mismatch
	}
	for i := range n {
		key := keys.Get(strconv.FormatInt(i, 10))
		if _, isSymbol := key.(*goja.Symbol); isSymbol || !slices.Contains(want, key.String()) {
			return mismatch
		}
	}
	return nil
}

// centsOf converts a routine value to cents. null and undefined are absent.
func centsOf(v goja.Value) (*int64, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	switch n := v.Export().(type) {
	case int64:
		if n < 0 {
			return nil, fmt.Errorf("negative value %d", n)
		}
		return watchlist.Cents(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
			return nil, fmt.Errorf("invalid number %v", n)
		}
		return watchlist.Cents(int64(math.Round(n))), nil
	default:
		return nil, errors.New("want a number")
	}
}

// panicMessage describes a recovered value without calling back into a
// runtime.
func panicMessage(r any) string {
	switch v := r.(type) {
	case *goja.Exception, goja.Value:
		return "uncaught exception"
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}
