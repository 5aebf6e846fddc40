package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"auto_doc_writer/engine"
	"auto_doc_writer/generator"
	"auto_doc_writer/publisher"
	"auto_doc_writer/server"
	"auto_doc_writer/store"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				srv, err := server.New(rt.engine, rt.store,
					server.WithLogger(rt.logger),
					server.WithStreamOptions(rt.streamOptions()...),
				)
				if err != nil {
					return err
				}
				listen := rt.cfg.ServerAddr
				if addr != "" {
					listen = addr
				}
				httpSrv := &http.Server{Addr: listen, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				errCh := make(chan error, 1)
				go func() { errCh <- httpSrv.ListenAndServe() }()
				rt.logger.Info("server.start", "addr", listen, "db", rt.cfg.DBPath)

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}
				rt.logger.Info("server.shutdown")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config.server_addr)")
	return cmd
}

func newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <instruction>",
		Short: "Create a document from an instruction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction := strings.TrimSpace(strings.Join(args, " "))
			if instruction == "" {
				return errors.New("instruction is required")
			}
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				doc, err := st.CreateDocument(ctx, instruction)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				fmt.Println(doc.ID)
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				docs, err := st.ListDocuments(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Phase", "Iterations", "Updated"})
				for _, d := range docs {
					tw.AppendRow(table.Row{d.ID, d.Title, engine.CurrentPhase(d.Memory), d.IterationCount, d.UpdatedAt.Local().Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func advanceCmd() *cobra.Command {
	var (
		answer string
		all    bool
		stream bool
	)
	cmd := &cobra.Command{
		Use:   "advance <document-id>",
		Short: "Run the next generation step",
		Long: `Run the next step for a document and store its result.
With --all, keep stepping until the document is complete, asking clarifying
questions on the terminal. With --stream, print section text as it arrives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				reader := bufio.NewReader(os.Stdin)
				for {
					req, err := rt.store.NextRequest(ctx, id, answer)
					if errors.Is(err, store.ErrAnswerRequired) {
						return fmt.Errorf("%w; pass it with --answer", err)
					}
					if err != nil {
						return err
					}
					var res engine.Result
					if stream {
						res, err = streamStep(ctx, rt, req, os.Stdout)
					} else {
						res, err = rt.engine.Advance(ctx, req)
					}
					if err != nil {
						return err
					}
					if err := rt.store.ApplyResult(ctx, id, res); err != nil {
						return err
					}
					if err := printResult(os.Stdout, res); err != nil {
						return err
					}
					answer = ""
					if !all {
						return nil
					}
					if engine.CurrentPhase(res.Memory) == engine.PhaseAwaitingAnswers {
						if answer, err = ask(reader, os.Stderr, res.Message); err != nil {
							return err
						}
						continue
					}
					if !res.ShouldContinue {
						return nil
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&answer, "answer", "", "answer to the pending clarifying question")
	cmd.Flags().BoolVar(&all, "all", false, "step until the document is complete")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream events while the step runs")
	return cmd
}

// streamStep runs one step through the streamer, echoing progress and section text.
func streamStep(ctx context.Context, rt *runtime, req engine.Request, w io.Writer) (engine.Result, error) {
	s := engine.NewStreamer(rt.engine, append(rt.streamOptions(), engine.WithStreamLogger(rt.logger))...)
	for ev := range s.Stream(ctx, req) {
		switch ev.Type {
		case engine.EventPhaseUpdate, engine.EventProgress:
			fmt.Fprintf(os.Stderr, "... %s\n", ev.Message)
		case engine.EventAction:
			fmt.Fprintf(w, "\n--- %s %s ---\n", ev.Action.Type, ev.Action.SectionID)
		case engine.EventContentChunk:
			fmt.Fprint(w, ev.Content)
		case engine.EventComplete:
			fmt.Fprintln(w)
			return *ev.Result, nil
		case engine.EventError:
			return engine.Result{}, errors.New(ev.Error)
		}
	}
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}
	return engine.Result{}, errors.New("stream ended without a result")
}

func ask(r *bufio.Reader, w io.Writer, question string) (string, error) {
	fmt.Fprintf(w, "%s\n> ", question)
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", store.ErrAnswerRequired
	}
	return line, nil
}

func printResult(w io.Writer, res engine.Result) error {
	if viper.GetBool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(w, "[%s] %s\n", res.Phase, res.Message)
	if res.ProgressMessage != "" {
		fmt.Fprintf(w, "  %s\n", res.ProgressMessage)
	}
	for _, a := range res.Actions {
		fmt.Fprintf(w, "  %s %s (%d chars)\n", a.Type, a.SectionID, len([]rune(a.Content)))
	}
	fmt.Fprintf(w, "  confidence=%s complete=%t continue=%t iteration=%d\n", res.Confidence, res.IsComplete, res.ShouldContinue, res.IterationCount)
	return nil
}

func statusCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "status <document-id>",
		Short: "Show a document's phase and plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				doc, err := st.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				plan, err := engine.DecodePlan(doc.Memory)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"document": doc, "phase": engine.CurrentPhase(doc.Memory), "plan": plan})
				}
				if asYAML {
					return printPlanYAML(os.Stdout, plan)
				}
				return printStatus(os.Stdout, doc, plan)
			})
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "dump the plan as YAML")
	return cmd
}

func printStatus(w io.Writer, doc store.Document, plan *engine.Plan) error {
	title := doc.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(w, "%s\n  phase: %s  iterations: %d\n  instruction: %s\n", title, engine.CurrentPhase(doc.Memory), doc.IterationCount, doc.Instruction)
	if plan == nil {
		fmt.Fprintln(w, "  no plan yet")
		return nil
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "Section", "Action", "Done"})
	for i, t := range plan.Tasks {
		done := ""
		if t.Done {
			done = "yes"
		}
		tw.AppendRow(table.Row{i + 1, t.Section, t.Action, done})
	}
	tw.Render()
	return nil
}

// printPlanYAML re-encodes the plan's JSON form so keys match the API.
func printPlanYAML(w io.Writer, plan *engine.Plan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func exportCmd() *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export <document-id>",
		Short: "Render a document as Markdown or HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				doc, err := st.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				sections, err := st.Sections(ctx, doc.ID)
				if err != nil {
					return err
				}
				pub := publisher.Document{Title: doc.Title, Sections: sections}
				var rendered string
				switch format {
				case "md", "markdown":
					rendered = publisher.RenderMarkdown(pub)
				case "html":
					if rendered, err = publisher.RenderHTML(pub); err != nil {
						return err
					}
				default:
					return fmt.Errorf("unsupported format %q (md, html)", format)
				}
				if out == "" || out == "-" {
					_, err = io.WriteString(os.Stdout, rendered)
					return err
				}
				if err := os.WriteFile(out, []byte(rendered), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "wrote %s (%d words)\n", out, publisher.WordCount(pub))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "output format: md or html")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		system      string
		temperature float64
		maxTokens   int
	)
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send one prompt through the provider fallback chain and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				var messages []generator.Message
				if system != "" {
					messages = append(messages, generator.Message{Role: "system", Content: system})
				}
				messages = append(messages, generator.Message{Role: "user", Content: strings.Join(args, " ")})
				for chunk := range rt.gen.GenerateStream(ctx, messages, temperature, maxTokens) {
					switch {
					case chunk.Err != nil:
						return chunk.Err
					case chunk.Reset:
						fmt.Fprintf(os.Stderr, "\n[%s/%s failed mid-answer, trying the next model]\n", chunk.ProviderID, chunk.ModelID)
					case chunk.Final != nil:
						fmt.Println()
						rt.logger.Debug("ask.done", "provider_id", chunk.Final.ProviderID, "model", chunk.Final.ModelID)
						return nil
					default:
						fmt.Print(chunk.Delta)
					}
				}
				return ctx.Err()
			})
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "optional system prompt")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 1024, "maximum tokens in the answer")
	return cmd
}
