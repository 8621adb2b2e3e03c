package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/qflowdb/qflow/internal/eventbus"
	"github.com/qflowdb/qflow/internal/otelobs"
)

const version = "qflow 0.1.0"

const rootUsage = `qflow — distributed query-execution substrate

USAGE:
  qflow <command> [flags]

COMMANDS:
  run         Execute a plan file and print its result metrics
  explain     Print a plan file's operator topology without running it
  version     Print the qflow version
  help        Show help for any command
`

const runUsage = `run FLAGS:
  -plan <file>           Plan file to execute (required)
  -otel.endpoint <addr>  OTLP collector endpoint
  -otel.service <name>   OpenTelemetry service name (default: qflow)
`

const explainUsage = `explain FLAGS:
  -plan <file>  Plan file to explain (required)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("qflow", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer))
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "run":
		return cmdRun(cmdArgs)
	case "explain":
		return cmdExplain(cmdArgs)
	case "version":
		fmt.Println(version)
		return nil
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "run":
		fmt.Print(runUsage)
	case "explain":
		fmt.Print(explainUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdRun(args []string) error {
	planPath := ""
	otelEndpoint := ""
	otelService := "qflow"

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&planPath, "plan", planPath, "Plan file to execute")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, runUsage)
		return err
	}
	if planPath == "" {
		fmt.Fprint(os.Stderr, runUsage)
		return fmt.Errorf("-plan is required")
	}

	pf, err := loadPlanFile(planPath)
	if err != nil {
		return err
	}
	p, collate, err := buildPlan(pf)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otelobs.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	execErr := p.Execute(context.Background())

	p.Metrics().Print(os.Stdout)
	fmt.Println()
	printRows(os.Stdout, collate)

	return execErr
}

func cmdExplain(args []string) error {
	planPath := ""
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&planPath, "plan", planPath, "Plan file to explain")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, explainUsage)
		return err
	}
	if planPath == "" {
		fmt.Fprint(os.Stderr, explainUsage)
		return fmt.Errorf("-plan is required")
	}

	pf, err := loadPlanFile(planPath)
	if err != nil {
		return err
	}
	p, _, err := buildPlan(pf)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}

	order, err := p.Explain()
	if err != nil {
		return err
	}
	fmt.Printf("plan %q\n", pf.Name)
	for i, name := range order {
		o := p.Operator(name)
		consumers := make([]string, 0, len(o.Consumers()))
		for _, c := range o.Consumers() {
			consumers = append(consumers, c.Name)
		}
		fmt.Printf("%d. %s (%s) -> %v\n", i+1, name, modeLabel(o), consumers)
	}
	return nil
}
