package plan

// Options configures a Plan. All options are safe to leave zero-valued.
type Options struct {
	// Name identifies the plan in published events and its metrics report.
	Name string
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{Name: "plan"}
}

// WithName sets the plan's name, used in PlanStart/PlanFinish events.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}
