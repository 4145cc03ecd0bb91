// Package gamelog reads the league's historical GameLog sheet export.
package gamelog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"mafia-ratings/server/recorder"
)

// Columns of a GameLog export. Flags are 1/0 (or true/false); WonAsMafia is
// set on the Mafia rows of games Mafia won.
var columns = []string{"GameID", "Player", "IsMafia", "NightZero", "WonAsMafia", "Exclude"}

// Read parses a GameLog CSV into games ordered by id. Rows of a game keep
// their sheet order as seat positions starting at 1. The winner of each game
// is written into the Result of every rated row.
func Read(r io.Reader) ([]recorder.GameRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty game log", recorder.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	idx, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	type game struct {
		rows     []recorder.Entry
		mafiaWon bool
	}
	games := map[int]*game{}
	var order []int

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		field := func(col string) string {
			i := idx[col]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		if field("GameID") == "" && field("Player") == "" {
			continue
		}

		id, err := parseID(field("GameID"))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: game id %q", recorder.ErrInvalidInput, line, field("GameID"))
		}
		flags := map[string]bool{}
		for _, col := range columns[2:] {
			v, err := parseFlag(field(col))
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %s %q", recorder.ErrInvalidInput, line, col, field(col))
			}
			flags[col] = v
		}

		g, ok := games[id]
		if !ok {
			g = &game{}
			games[id] = g
			order = append(order, id)
		}
		e := recorder.Entry{
			GameID:    id,
			Position:  len(g.rows) + 1,
			Player:    field("Player"),
			Alignment: recorder.Town,
			Exclude:   flags["Exclude"],
		}
		switch {
		case flags["IsMafia"]:
			e.Alignment = recorder.Mafia
			if flags["WonAsMafia"] {
				g.mafiaWon = true
			}
		case flags["NightZero"]:
			e.Result = recorder.NightZero
		}
		g.rows = append(g.rows, e)
	}

	out := make([]recorder.GameRecord, 0, len(order))
	for _, id := range order {
		g := games[id]
		winner := recorder.Town
		if g.mafiaWon {
			winner = recorder.Mafia
		}
		for i := range g.rows {
			e := &g.rows[i]
			if e.Result == recorder.NightZero {
				continue
			}
			e.Result = recorder.Loss
			if e.Alignment == winner {
				e.Result = recorder.Win
			}
		}
		out = append(out, recorder.GameRecord{GameID: id, Entries: g.rows})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out, nil
}

func indexColumns(header []string) (map[string]int, error) {
	idx := map[string]int{}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		for _, col := range columns {
			if strings.EqualFold(h, col) {
				idx[col] = i
			}
		}
	}
	for _, col := range columns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: game log is missing column %q", recorder.ErrInvalidInput, col)
		}
	}
	return idx, nil
}

// parseID accepts "46" as well as the sheet's "46.0".
func parseID(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

func parseFlag(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, err
	}
	return f == 1, nil
}
