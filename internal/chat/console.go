package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/driverag/backend/internal/metrics"
	"github.com/driverag/backend/internal/query"
)

// Asker answers a question and exposes its timing windows. Satisfied by
// *query.Engine.
type Asker interface {
	Ask(ctx context.Context, question string) *query.Answer
	Tracker() *metrics.Tracker
}

// FeedbackStore records thumbs up or down against a logged query.
type FeedbackStore interface {
	SetFeedback(ctx context.Context, queryID string, feedback int) bool
}

// Console is the interactive stdin chat loop.
type Console struct {
	engine Asker
	store  FeedbackStore
	in     io.Reader
	out    io.Writer
	logger *zap.Logger
}

func NewConsole(engine Asker, store FeedbackStore, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		engine: engine,
		store:  store,
		in:     in,
		out:    out,
		logger: logger,
	}
}

// Run reads questions until EOF, an exit command, or context cancellation.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "Asistente de documentos. Escribe tu pregunta, ':stats' para ver tiempos, o ':salir' para terminar.")

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(c.out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case isExit(line):
			fmt.Fprintln(c.out, "Hasta luego.")
			return nil
		case line == ":stats":
			c.printStats()
			continue
		}

		answer := c.engine.Ask(ctx, line)
		fmt.Fprintf(c.out, "\n%s\n", answer.Response)
		c.printSources(answer)

		if answer.QueryID != "" {
			c.askFeedback(ctx, scanner, answer.QueryID)
		}
	}
}

func isExit(line string) bool {
	switch strings.ToLower(line) {
	case ":salir", "salir", "exit", "quit":
		return true
	}
	return false
}

func (c *Console) printSources(answer *query.Answer) {
	if len(answer.Sources) == 0 {
		return
	}

	fmt.Fprintln(c.out, "\nFuentes:")
	for _, src := range answer.Sources {
		fmt.Fprintf(c.out, "  %d. %s (fragmento %d de %d, relevancia %.2f)\n",
			src.Rank, src.FileName, src.ChunkIndex+1, src.TotalChunks, src.Similarity)
	}
}

func (c *Console) askFeedback(ctx context.Context, scanner *bufio.Scanner, queryID string) {
	fmt.Fprint(c.out, "\n¿Te fue útil la respuesta? (s/n, enter para omitir): ")
	if !scanner.Scan() {
		return
	}

	var feedback int
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "s", "si", "sí", "y", "yes":
		feedback = 1
	case "n", "no":
		feedback = -1
	default:
		return
	}

	if c.store.SetFeedback(ctx, queryID, feedback) {
		fmt.Fprintln(c.out, "Gracias por tu valoración.")
	}
}

func (c *Console) printStats() {
	snapshot := c.engine.Tracker().Snapshot()
	if len(snapshot) == 0 {
		fmt.Fprintln(c.out, "Sin datos todavía.")
		return
	}

	ops := make([]string, 0, len(snapshot))
	for op := range snapshot {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, op := range ops {
		s := snapshot[op]
		fmt.Fprintf(c.out, "  %-22s n=%d media=%.2fs p50=%.2fs p95=%.2fs max=%.2fs\n",
			op, s.Count, s.Mean, s.P50, s.P95, s.Max)
	}
}
