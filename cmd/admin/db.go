package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type dbQuery struct {
	Limit    int
	Since    uint64
	Kind     string
	OpenOnly bool
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	since := fs.Uint64("since", 0, "first frame (ticks)")
	kind := fs.String("kind", "", "entity kind filter (spawns)")
	open := fs.Bool("open", false, "only live sessions or entities (sessions, spawns)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, os.Stdout, q, dbQuery{Limit: *limit, Since: *since, Kind: strings.TrimSpace(*kind), OpenOnly: *open}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-limit N] snapshots|ticks|sessions|spawns|tuning")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runQuery(db *sql.DB, w io.Writer, q string, opt dbQuery) error {
	if opt.Limit <= 0 {
		opt.Limit = 20
	}
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT frame,path,seed,monsters,pending,next_net_id FROM snapshots ORDER BY frame DESC LIMIT ?`, opt.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Frame     int64  `json:"frame"`
				Path      string `json:"path"`
				Seed      int64  `json:"seed"`
				Monsters  int    `json:"monsters"`
				Pending   int64  `json:"pending"`
				NextNetID int64  `json:"next_net_id"`
			}
			if err := rows.Scan(&r.Frame, &r.Path, &r.Seed, &r.Monsters, &r.Pending, &r.NextNetID); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			writeJSON(w, r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT frame,connects,disconnects,created,destroyed,actions_accepted,cooldown_drops,overflow_drops,entities,next_net_id,started,game_over FROM ticks WHERE frame>=? ORDER BY frame LIMIT ?`, int64(opt.Since), opt.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Frame           int64 `json:"frame"`
				Connects        int   `json:"connects"`
				Disconnects     int   `json:"disconnects"`
				Created         int   `json:"created"`
				Destroyed       int   `json:"destroyed"`
				ActionsAccepted int64 `json:"actions_accepted"`
				CooldownDrops   int64 `json:"cooldown_drops"`
				OverflowDrops   int64 `json:"overflow_drops"`
				Entities        int   `json:"entities"`
				NextNetID       int64 `json:"next_net_id"`
				Started         bool  `json:"started"`
				GameOver        bool  `json:"game_over"`
			}
			if err := rows.Scan(&r.Frame, &r.Connects, &r.Disconnects, &r.Created, &r.Destroyed,
				&r.ActionsAccepted, &r.CooldownDrops, &r.OverflowDrops, &r.Entities, &r.NextNetID,
				&r.Started, &r.GameOver); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			writeJSON(w, r)
		}
		return rows.Err()

	case "sessions":
		query := `SELECT session_id,conn,name,connected_frame,disconnected_frame,reason,player FROM sessions`
		if opt.OpenOnly {
			query += ` WHERE disconnected_frame IS NULL`
		}
		query += ` ORDER BY connected_frame DESC, conn DESC LIMIT ?`
		rows, err := db.Query(query, opt.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r struct {
					SessionID         string `json:"session_id"`
					Conn              int64  `json:"conn"`
					Name              string `json:"name"`
					ConnectedFrame    int64  `json:"connected_frame"`
					DisconnectedFrame *int64 `json:"disconnected_frame,omitempty"`
					Reason            string `json:"reason,omitempty"`
					Player            *int64 `json:"player,omitempty"`
				}
				disc, player sql.NullInt64
				reason       sql.NullString
			)
			if err := rows.Scan(&r.SessionID, &r.Conn, &r.Name, &r.ConnectedFrame, &disc, &reason, &player); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			if disc.Valid {
				r.DisconnectedFrame = &disc.Int64
			}
			if player.Valid {
				r.Player = &player.Int64
			}
			r.Reason = reason.String
			writeJSON(w, r)
		}
		return rows.Err()

	case "spawns":
		query := `SELECT net_id,kind,created_frame,destroyed_frame,owner,x,y FROM spawns WHERE 1=1`
		var args []any
		if opt.Kind != "" {
			query += ` AND kind=?`
			args = append(args, opt.Kind)
		}
		if opt.OpenOnly {
			query += ` AND destroyed_frame IS NULL`
		}
		query += ` ORDER BY net_id DESC LIMIT ?`
		args = append(args, opt.Limit)
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r struct {
					NetID          int64   `json:"net_id"`
					Kind           string  `json:"kind"`
					CreatedFrame   int64   `json:"created_frame"`
					DestroyedFrame *int64  `json:"destroyed_frame,omitempty"`
					Owner          *int64  `json:"owner,omitempty"`
					X              float64 `json:"x"`
					Y              float64 `json:"y"`
				}
				destroyed, owner sql.NullInt64
			)
			if err := rows.Scan(&r.NetID, &r.Kind, &r.CreatedFrame, &destroyed, &owner, &r.X, &r.Y); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			if destroyed.Valid {
				r.DestroyedFrame = &destroyed.Int64
			}
			if owner.Valid {
				r.Owner = &owner.Int64
			}
			writeJSON(w, r)
		}
		return rows.Err()

	case "tuning":
		var digest, raw, updated string
		err := db.QueryRow(`SELECT t.digest,t.json,t.updated_at FROM tuning t JOIN meta m ON m.key='tuning_digest' AND m.value=t.digest`).Scan(&digest, &raw, &updated)
		if err != nil {
			return fmt.Errorf("tuning: %w", err)
		}
		writeJSON(w, struct {
			Digest    string          `json:"digest"`
			UpdatedAt string          `json:"updated_at"`
			Tuning    json.RawMessage `json:"tuning"`
		}{digest, updated, json.RawMessage(raw)})
		return nil

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
}

func printJSON(v any) { writeJSON(os.Stdout, v) }

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
