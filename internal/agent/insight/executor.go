package insight

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/rfi-assistant/server/internal/agent/llm"
	"github.com/rfi-assistant/server/internal/agent/metrics"
	"github.com/rfi-assistant/server/internal/agent/model"
	"github.com/rfi-assistant/server/internal/dataset"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// ErrorPrefix starts the output of a program that failed.
const ErrorPrefix = "Error during execution: "

// Packages a generated program may import besides records and llm.
var allowedStdlib = []string{
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
}

var (
	mainFuncRe = regexp.MustCompile(`(?m)^func\s+main\s*\(\s*\)`)
	runFuncRe  = regexp.MustCompile(`(?m)^func\s+Run\s*\(\s*\)`)
)

// AllowedImports lists the import paths available to a program.
func AllowedImports(withModel bool) []string {
	out := append([]string{"records"}, allowedStdlib...)
	if withModel {
		out = append(out, "llm")
	}
	sort.Strings(out)
	return out
}

// Capabilities are the handles a program may reach besides the table. A nil
// Model keeps the llm package out of the interpreter.
type Capabilities struct {
	Model *llm.Client
}

// ExecResult is the captured outcome of one program. Fault is set when the
// program could not be loaded or failed at runtime; Output then carries the
// error text.
type ExecResult struct {
	Output  string
	Fault   error
	Elapsed time.Duration
}

func (r ExecResult) Faulted() bool {
	return r.Fault != nil
}

// Executor runs generated programs in a yaegi interpreter that can only see
// an allowlisted slice of the standard library and the bridges.
type Executor struct {
	table   *dataset.Table
	cfg     model.InsightConfig
	fan     *fanout
	metrics *metrics.Metrics
	symbols interp.Exports
}

func NewExecutor(table *dataset.Table, cfg model.InsightConfig, m *metrics.Metrics) *Executor {
	return &Executor{
		table:   table,
		cfg:     cfg,
		fan:     newFanout(cfg.MaxConcurrentModelCalls, cfg.ModelCallsPerSecond, m),
		metrics: m,
		symbols: stdlibSubset(allowedStdlib),
	}
}

// Execute runs code and captures its output. It never returns an error:
// load and runtime failures are reported in ExecResult.
func (e *Executor) Execute(ctx context.Context, code string, caps Capabilities) (res ExecResult) {
	start := time.Now()
	out := newCappedBuffer(e.cfg.MaxOutputBytes)

	defer func() {
		if r := recover(); r != nil {
			res.Fault = fmt.Errorf("interpreter panic: %v", r)
		}
		res.Elapsed = time.Since(start)
		if res.Fault != nil {
			res.Output = faultOutput(out.String(), res.Fault)
			e.metrics.ExecutionFault()
		} else {
			res.Output = out.String()
		}
		logx.Debug().
			Dur("elapsed", res.Elapsed).
			Int("output_bytes", len(res.Output)).
			Bool("fault", res.Fault != nil).
			Msg("Program executed")
	}()

	src, err := prepareSource(code, caps.Model != nil)
	if err != nil {
		res.Fault = err
		return res
	}

	if e.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ExecTimeout)
		defer cancel()
	}

	i := interp.New(interp.Options{Stdout: out, Stderr: out})
	if err := i.Use(e.symbols); err != nil {
		res.Fault = fmt.Errorf("load stdlib: %w", err)
		return res
	}
	records := &recordsBridge{table: e.table, out: out}
	if err := i.Use(records.exports()); err != nil {
		res.Fault = fmt.Errorf("load records: %w", err)
		return res
	}
	if caps.Model != nil {
		bridge := &modelBridge{ctx: ctx, client: caps.Model, fan: e.fan}
		if err := i.Use(bridge.exports()); err != nil {
			res.Fault = fmt.Errorf("load llm: %w", err)
			return res
		}
	}

	if _, err := i.EvalWithContext(ctx, src); err != nil {
		res.Fault = err
		return res
	}
	if _, err := i.EvalWithContext(ctx, "main.Run()"); err != nil {
		res.Fault = err
		return res
	}
	return res
}

// prepareSource checks the package clause, imports and statements, then
// renames main so loading the program does not run it.
func prepareSource(code string, withModel bool) (string, error) {
	src := strings.TrimSpace(ExtractCode(code))
	if src == "" {
		return "", errors.New("empty program")
	}
	if !strings.HasPrefix(src, "package ") {
		src = "package main\n\n" + src
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "program.go", src, 0)
	if err != nil {
		return "", fmt.Errorf("parse program: %w", err)
	}
	if f.Name.Name != "main" {
		return "", fmt.Errorf("program must be package main, got %s", f.Name.Name)
	}

	allowed := make(map[string]bool)
	for _, p := range AllowedImports(withModel) {
		allowed[p] = true
	}
	var forbidden []string
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || !allowed[path] {
			forbidden = append(forbidden, imp.Path.Value)
		}
	}
	if len(forbidden) > 0 {
		return "", fmt.Errorf("forbidden imports: %s", strings.Join(forbidden, ", "))
	}
	if hasGoStmt(f) {
		// A panicking goroutine would escape Execute's recover.
		return "", errors.New("goroutines are not allowed; use llm.Map")
	}

	switch {
	case runFuncRe.MatchString(src):
		src = mainFuncRe.ReplaceAllString(src, "func programMain()")
	case mainFuncRe.MatchString(src):
		src = mainFuncRe.ReplaceAllString(src, "func Run()")
	default:
		return "", errors.New("program defines neither Run nor main")
	}
	return src, nil
}

func hasGoStmt(f *ast.File) bool {
	found := false
	ast.Inspect(f, func(n ast.Node) bool {
		if _, ok := n.(*ast.GoStmt); ok {
			found = true
		}
		return !found
	})
	return found
}

func faultOutput(captured string, fault error) string {
	msg := ErrorPrefix + fault.Error()
	if strings.TrimSpace(captured) == "" {
		return msg
	}
	return strings.TrimRight(captured, "\n") + "\n" + msg
}

// stdlibSubset picks the yaegi symbol tables for the given import paths.
func stdlibSubset(paths []string) interp.Exports {
	out := make(interp.Exports, len(paths))
	for _, p := range paths {
		key := p + "/" + p[strings.LastIndex(p, "/")+1:]
		if syms, ok := stdlib.Symbols[key]; ok {
			out[key] = syms
		}
	}
	return out
}
