package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Console implementa ports.StatusNotifier.
type Console struct {
	out   io.Writer
	game  domain.GameConfig
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(game domain.GameConfig, table bool) *Console {
	return &Console{out: os.Stdout, game: game, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, game domain.GameConfig, table bool) *Console {
	return &Console{out: w, game: game, table: table, now: time.Now}
}

// NotifyStatus imprime el estado en el modo configurado.
func (c *Console) NotifyStatus(_ context.Context, s domain.Status) error {
	ts := c.now().Format("15:04:05")
	if !s.View.Exists {
		fmt.Fprintf(c.out, "[%s] no round yet\n", ts)
		return nil
	}
	if c.table {
		c.printFull(ts, s)
	} else {
		c.printCompact(ts, s)
	}
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(ts string, s domain.Status) {
	v := s.View
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] round #%d %s %ds/%ds", ts, v.ID, v.Phase, v.Elapsed, c.game.RoundDuration)
	if v.Settled {
		fmt.Fprintf(&sb, " winner:%s", v.Winner)
	} else if v.Remaining > 0 {
		fmt.Fprintf(&sb, " next in %ds", v.PhaseEndsIn)
	}
	for h := 0; h < domain.NumHorses; h++ {
		fmt.Fprintf(&sb, " | %s %d", domain.HorseID(h), s.Positions[h])
	}
	fmt.Fprintf(&sb, " | pool %s", s.Pools.Total().String())
	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime la cabecera de la ronda y la tabla de caballos.
func (c *Console) printFull(ts string, s domain.Status) {
	v := s.View
	fmt.Fprintf(c.out, "\n[%s] round #%d (%s)\n", ts, v.ID, v.Phase)
	fmt.Fprintf(c.out, "  started:   %s\n", time.Unix(v.StartTime, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(c.out, "  elapsed:   %ds  remaining: %ds  phase ends in: %ds\n", v.Elapsed, v.Remaining, v.PhaseEndsIn)
	fmt.Fprintf(c.out, "  betting:   %s\n", openLabel(v.BettingOpen))
	if v.Settled {
		fmt.Fprintf(c.out, "  winner:    %s", v.Winner)
		if v.Retained.IsPositive() {
			fmt.Fprintf(c.out, " (no backers, %s retained)", v.Retained.String())
		}
		fmt.Fprintln(c.out)
	} else {
		fmt.Fprintln(c.out, "  settled:   no")
	}

	c.printTable(s)
}

// printTable imprime posición, progreso y pozo por caballo.
func (c *Console) printTable(s domain.Status) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Horse", "Position", "Progress", "Pool", "Share")

	total := s.Pools.Total()
	leader := s.Positions.Leader()
	for h := 0; h < domain.NumHorses; h++ {
		name := domain.HorseID(h).String()
		if domain.HorseID(h) == leader && s.View.Phase != domain.PhaseBetting {
			name += " *"
		}
		share := "-"
		if total.IsPositive() {
			share = s.Pools[h].Div(total).Mul(hundred).StringFixed(1) + "%"
		}
		table.Append(
			fmt.Sprintf("%d", h),
			name,
			fmt.Sprintf("%d", s.Positions[h]),
			progressBar(s.Positions[h], c.game.StartPosition, c.game.FinishPosition, 20),
			s.Pools[h].String(),
			share,
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  total pool: %s\n", total.String())
}

// PrintRounds imprime el histórico de rondas.
func (c *Console) PrintRounds(rounds []domain.Round) {
	if len(rounds) == 0 {
		fmt.Fprintln(c.out, "no rounds recorded")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Round", "Started", "Settled", "Winner", "Retained")
	for _, r := range rounds {
		winner := "-"
		if r.Settled {
			winner = r.Winner.String()
		}
		table.Append(
			fmt.Sprintf("%d", r.ID),
			time.Unix(r.StartTime, 0).UTC().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%t", r.Settled),
			winner,
			r.Retained.String(),
		)
	}
	table.Render()
}

// progressBar dibuja el avance de start a finish con width celdas.
func progressBar(pos, start, finish uint64, width int) string {
	if finish <= start {
		return ""
	}
	if pos < start {
		pos = start
	}
	filled := int((pos - start) * uint64(width) / (finish - start))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("·", width-filled)
}

func openLabel(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}
