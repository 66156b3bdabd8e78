package internal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/tools/txtar"

	"github.com/smith-xyz/go-module-patcher/pkg/engine"
	"github.com/smith-xyz/go-module-patcher/pkg/host/jscompile"
	"github.com/smith-xyz/go-module-patcher/pkg/host/memhost"
	"github.com/smith-xyz/go-module-patcher/pkg/interceptor"
	"github.com/smith-xyz/go-module-patcher/pkg/rules"
	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

// runOptions are the inputs shared by apply and check. A bundle is a txtar
// archive whose file names are module ids.
type runOptions struct {
	rules   []string
	bundle  string
	webpack bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&o.rules, "rules", "r", nil, "YAML rule pack (repeatable, applied in order)")
	cmd.Flags().StringVarP(&o.bundle, "bundle", "b", "", "txtar bundle of module sources")
	cmd.Flags().BoolVar(&o.webpack, "webpack", false, "normalize factories the way webpack patches expect")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.MarkFlagRequired("bundle")
}

type module struct {
	id     types.ModuleID
	source string
}

type runResult struct {
	comment []byte
	modules []module
	records map[types.ModuleID]interceptor.ModuleRecord
	report  engine.Report
	webpack bool
}

func run(g *globals, o *runOptions) (*runResult, error) {
	cfg, logger, err := g.setup()
	if err != nil {
		return nil, err
	}

	plugins, err := rules.LoadFiles(o.rules...)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	ar, err := txtar.ParseFile(o.bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	if len(ar.Files) == 0 {
		return nil, errors.New("bundle contains no modules")
	}

	res := &runResult{
		comment: ar.Comment,
		records: make(map[types.ModuleID]interceptor.ModuleRecord),
		webpack: o.webpack,
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithObserver(func(rec interceptor.ModuleRecord) {
			res.records[rec.ID] = rec
		}),
	}
	if o.webpack {
		opts = append(opts, engine.WithNormalizer(jscompile.NormalizeWebpack))
	}

	host := memhost.New()
	eng, err := engine.New(cfg, host, jscompile.New(), opts...)
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	if err := eng.Register(plugins...); err != nil {
		return nil, fmt.Errorf("failed to register rules: %w", err)
	}

	hook := eng.Hook()
	seen := make(map[types.ModuleID]bool, len(ar.Files))
	for _, f := range ar.Files {
		id := types.ModuleID(f.Name)
		if seen[id] {
			logger.Warn("modpatch: duplicate module in bundle, keeping the first", "module", f.Name)
			continue
		}
		seen[id] = true

		src := strings.TrimSuffix(string(f.Data), "\n")
		host.Load(hook, id, src)
		res.modules = append(res.modules, module{id: id, source: src})
	}

	res.report = eng.Report()
	return res, nil
}

// output returns the bundle with patched modules replaced.
func (r *runResult) output() *txtar.Archive {
	ar := &txtar.Archive{Comment: r.comment}
	for _, m := range r.modules {
		src := m.source
		if rec, ok := r.records[m.id]; ok && rec.Patched() {
			src = rec.PatchedSource
		}
		ar.Files = append(ar.Files, txtar.File{Name: string(m.id), Data: []byte(src + "\n")})
	}
	return ar
}

// patched returns the records of modules that changed, in bundle order.
func (r *runResult) patched() []interceptor.ModuleRecord {
	var out []interceptor.ModuleRecord
	for _, m := range r.modules {
		if rec, ok := r.records[m.id]; ok && rec.Patched() {
			out = append(out, rec)
		}
	}
	return out
}

// baseline is the text patches were applied to.
func (r *runResult) baseline(rec interceptor.ModuleRecord) string {
	if r.webpack {
		return jscompile.NormalizeWebpack(rec.FactorySource)
	}
	return rec.FactorySource
}
