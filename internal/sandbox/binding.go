package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

const (
	handleKey         = "__handle"
	waitPollInterval  = 100 * time.Millisecond
	screenshotType    = "image/png"
	defaultShotPrefix = "screenshots"
)

var (
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	// trampolineProgram calls a host function from a JS frame.
	trampolineProgram = goja.MustCompile("trampoline.js", "(function (f) { return f(); })", true)
)

// binding exposes one page to one runtime for the duration of one call.
type binding struct {
	ctx     context.Context
	vm      *goja.Runtime
	page    watchlist.Page
	domain  string
	exec    *Executor
	handles []watchlist.Element
	// ownKeys is the runtime's Reflect.ownKeys, captured before user code
	// can replace it.
	ownKeys    goja.Callable
	trampoline goja.Callable
}

type hostFunc = func(goja.FunctionCall) goja.Value

func setAll(obj *goja.Object, funcs map[string]hostFunc) error {
	for name, fn := range funcs {
		if err := obj.Set(name, fn); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
	}
	return nil
}

func (b *binding) install() error {
	reflectObj, ok := b.vm.Get("Reflect").(*goja.Object)
	if !ok {
		return errors.New("runtime has no Reflect")
	}
	ownKeys, ok := goja.AssertFunction(reflectObj.Get("ownKeys"))
	if !ok {
		return errors.New("runtime has no Reflect.ownKeys")
	}
	b.ownKeys = ownKeys
	trampolineVal, err := b.vm.RunProgram(trampolineProgram)
	if err != nil {
		return fmt.Errorf("install trampoline: %w", err)
	}
	trampoline, ok := goja.AssertFunction(trampolineVal)
	if !ok {
		return errors.New("trampoline is not a function")
	}
	b.trampoline = trampoline
	return b.installConsole()
}

func (b *binding) installConsole() error {
	console := b.vm.NewObject()
	levels := map[string]hostFunc{}
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		levels[level] = b.consoleFunc(level)
	}
	if err := setAll(console, levels); err != nil {
		return err
	}
	if err := b.vm.Set("console", console); err != nil {
		return fmt.Errorf("install console: %w", err)
	}
	return nil
}

func (b *binding) consoleFunc(level string) hostFunc {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		b.exec.logger.Debug("routine console",
			zap.String("domain", b.domain),
			zap.String("level", level),
			zap.String("message", strings.Join(parts, " ")),
		)
		return goja.Undefined()
	}
}

func (b *binding) pageObject() (*goja.Object, error) {
	obj := b.vm.NewObject()
	query := func(call goja.FunctionCall) goja.Value {
		el, err := b.page.Query(b.ctx, call.Argument(0).String())
		if err != nil {
			b.throw(err)
		}
		return b.element(el)
	}
	err := setAll(obj, map[string]hostFunc{
		"url": func(goja.FunctionCall) goja.Value {
			return b.vm.ToValue(b.page.URL())
		},
		"query":           query,
		"$":               query,
		"waitForSelector": b.waitForSelector,
		"text": func(call goja.FunctionCall) goja.Value {
			return b.text(call.Argument(0), call.Argument(1))
		},
		"attr": func(call goja.FunctionCall) goja.Value {
			return b.attr(call.Argument(0), call.Argument(1).String(), call.Argument(2))
		},
		"screenshot": b.screenshot,
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (b *binding) utilObject() (*goja.Object, error) {
	obj := b.vm.NewObject()
	err := setAll(obj, map[string]hostFunc{
		"formatDate":  b.formatDate,
		"minCoalesce": b.minCoalesce,
		"parsePrice": func(call goja.FunctionCall) goja.Value {
			arg := call.Argument(0)
			if goja.IsUndefined(arg) || goja.IsNull(arg) {
				return goja.Undefined()
			}
			cents, ok := ParsePrice(arg.String())
			if !ok {
				return goja.Undefined()
			}
			return b.vm.ToValue(cents)
		},
		"formatPrice": func(call goja.FunctionCall) goja.Value {
			cents, err := centsOf(call.Argument(0))
			if err != nil {
				return b.vm.ToValue(watchlist.FormatPrice(nil))
			}
			return b.vm.ToValue(watchlist.FormatPrice(cents))
		},
		"selectTextContent": func(call goja.FunctionCall) goja.Value {
			return b.text(call.Argument(0), call.Argument(1))
		},
		"selectAttribute": func(call goja.FunctionCall) goja.Value {
			return b.attr(call.Argument(0), call.Argument(1).String(), call.Argument(2))
		},
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// element wraps a page element in a JS object carrying a hidden handle.
func (b *binding) element(el watchlist.Element) goja.Value {
	if el == nil {
		return goja.Null()
	}
	b.handles = append(b.handles, el)
	obj := b.vm.NewObject()
	handle := b.vm.ToValue(len(b.handles) - 1)
	if err := obj.DefineDataProperty(handleKey, handle, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		b.throw(err)
	}
	err := setAll(obj, map[string]hostFunc{
		"text": func(call goja.FunctionCall) goja.Value {
			return b.text(obj, call.Argument(0))
		},
		"attr": func(call goja.FunctionCall) goja.Value {
			return b.attr(obj, call.Argument(0).String(), call.Argument(1))
		},
	})
	if err == nil {
		err = obj.Set("selector", el.Selector())
	}
	if err != nil {
		b.throw(err)
	}
	return obj
}

func (b *binding) unwrap(v goja.Value) watchlist.Element {
	obj, ok := v.(*goja.Object)
	if !ok {
		b.throw(errors.New("expected an element"))
	}
	idx, ok := obj.Get(handleKey).Export().(int64)
	if !ok || idx < 0 || int(idx) >= len(b.handles) {
		b.throw(errors.New("expected an element"))
	}
	return b.handles[idx]
}

func (b *binding) waitForSelector(call goja.FunctionCall) goja.Value {
	selector := call.Argument(0).String()
	ctx := b.ctx
	if ms := call.Argument(1).ToInteger(); ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		el, err := b.page.Query(ctx, selector)
		if err != nil {
			b.throw(err)
		}
		if el != nil {
			return b.element(el)
		}
		select {
		case <-ctx.Done():
			b.throw(fmt.Errorf("waiting for selector %q: %w", selector, ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (b *binding) text(elVal, transform goja.Value) goja.Value {
	if goja.IsUndefined(elVal) || goja.IsNull(elVal) {
		return goja.Undefined()
	}
	text, err := b.page.Text(b.ctx, b.unwrap(elVal))
	if err != nil {
		b.throw(err)
	}
	return b.transform(b.vm.ToValue(text), transform)
}

func (b *binding) attr(elVal goja.Value, name string, transform goja.Value) goja.Value {
	if goja.IsUndefined(elVal) || goja.IsNull(elVal) {
		return goja.Undefined()
	}
	value, ok, err := b.page.Attribute(b.ctx, b.unwrap(elVal), name)
	if err != nil {
		b.throw(err)
	}
	if !ok {
		return goja.Undefined()
	}
	return b.transform(b.vm.ToValue(value), transform)
}

func (b *binding) transform(v, fnVal goja.Value) goja.Value {
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return v
	}
	out, err := fn(goja.Undefined(), v)
	if err != nil {
		b.throw(err)
	}
	return out
}

func (b *binding) screenshot(call goja.FunctionCall) goja.Value {
	if b.exec.blobs == nil {
		b.throw(errors.New("screenshots are not configured"))
	}
	data, err := b.page.Screenshot(b.ctx)
	if err != nil {
		b.throw(err)
	}
	uri, err := b.exec.blobs.PutObject(b.ctx, b.screenshotPath(call.Argument(0)), screenshotType, bytes.NewReader(data))
	if err != nil {
		b.throw(fmt.Errorf("store screenshot: %w", err))
	}
	return b.vm.ToValue(uri)
}

func (b *binding) screenshotPath(nameVal goja.Value) string {
	name := "page"
	if !goja.IsUndefined(nameVal) && !goja.IsNull(nameVal) {
		name = unsafeNameChars.ReplaceAllString(nameVal.String(), "_")
	}
	name = strings.TrimSuffix(name, ".png")
	prefix := b.exec.cfg.ScreenshotPrefix
	if prefix == "" {
		prefix = defaultShotPrefix
	}
	stamp := b.exec.clock.Now().UTC().Format("20060102T150405Z")
	return fmt.Sprintf("%s/%s/%s-%s.png", prefix, b.domain, stamp, name)
}

func (b *binding) formatDate(call goja.FunctionCall) goja.Value {
	t := b.exec.clock.Now()
	if exported, ok := call.Argument(0).Export().(time.Time); ok {
		t = exported
	}
	return b.vm.ToValue(watchlist.FormatDate(t.In(b.exec.cfg.Location)))
}

func (b *binding) minCoalesce(call goja.FunctionCall) goja.Value {
	var lowest goja.Value
	lowestNum := 0.0
	for _, arg := range call.Arguments {
		n, ok := finite(arg)
		if !ok {
			continue
		}
		if lowest == nil || n < lowestNum {
			lowest, lowestNum = arg, n
		}
	}
	if lowest == nil {
		return goja.Undefined()
	}
	return lowest
}

func finite(v goja.Value) (float64, bool) {
	switch n := v.Export().(type) {
	case int64:
		return float64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// throw raises err inside the runtime. Errors coming back from nested JS
// calls are rethrown as-is and an interrupt is re-armed so a catch block in
// the routine cannot swallow the deadline.
func (b *binding) throw(err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		b.vm.Interrupt(interrupted.Value())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex.Value())
	}
	panic(b.vm.NewGoError(err))
}
