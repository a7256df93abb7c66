package storage

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/powertac/powertac-tools/internal/model"
)

// ParseGameBrokers reads GameBrokerInfo output:
//
//	competition, <id>, <length>, <brokerCount>
//	broker, <name>, <ordinal>
//
// The extractor prints "-- timeslot N" progress markers without a newline, so
// the competition record can share a line with them.
func ParseGameBrokers(r io.Reader) (model.GameInfo, []model.BrokerInfo, error) {
	var game model.GameInfo
	var brokers []model.BrokerInfo
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.LastIndex(line, "competition,"); i >= 0 {
			line = line[i:]
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		switch fields[0] {
		case "competition":
			if len(fields) < 4 {
				return game, nil, fmt.Errorf("line %d: short competition record %q", lineNo, line)
			}
			length, err1 := strconv.Atoi(fields[2])
			size, err2 := strconv.Atoi(fields[3])
			if err1 != nil || err2 != nil {
				return game, nil, fmt.Errorf("line %d: bad competition record %q", lineNo, line)
			}
			game = model.GameInfo{GameID: fields[1], Length: length, Size: size}
		case "broker":
			if len(fields) < 3 {
				return game, nil, fmt.Errorf("line %d: short broker record %q", lineNo, line)
			}
			ord, err := strconv.Atoi(fields[2])
			if err != nil {
				return game, nil, fmt.Errorf("line %d: bad broker id %q", lineNo, fields[2])
			}
			brokers = append(brokers, model.BrokerInfo{Name: fields[1], Ordinal: ord})
		}
	}
	if err := sc.Err(); err != nil {
		return game, nil, err
	}
	if game.GameID == "" {
		return game, nil, fmt.Errorf("no competition record")
	}
	return game, brokers, nil
}

// LoadGameBrokers parses GameBrokerInfo output and upserts the game, its
// brokers and the broker_game links in one transaction.
func (db *DB) LoadGameBrokers(r io.Reader) (model.GameInfo, error) {
	game, brokers, err := ParseGameBrokers(r)
	if err != nil {
		return game, err
	}
	return game, db.UpsertGame(game, brokers)
}

// UpsertGame stores one game and its brokers. Broker rows are shared across
// games by name.
func (db *DB) UpsertGame(game model.GameInfo, brokers []model.BrokerInfo) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(db.qb.Build(`
		INSERT INTO game(id, size, length) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET size = excluded.size, length = excluded.length`),
		game.GameID, game.Size, game.Length); err != nil {
		return fmt.Errorf("game %s: %w", game.GameID, err)
	}

	addBroker, err := tx.Prepare(db.qb.Build(`INSERT INTO broker(name) VALUES (?) ON CONFLICT (name) DO NOTHING`))
	if err != nil {
		return err
	}
	defer addBroker.Close()
	findBroker, err := tx.Prepare(db.qb.Build(`SELECT id FROM broker WHERE name = ?`))
	if err != nil {
		return err
	}
	defer findBroker.Close()
	link, err := tx.Prepare(db.qb.Build(`
		INSERT INTO broker_game(broker_id, game_id, game_broker_id) VALUES (?, ?, ?)
		ON CONFLICT (broker_id, game_id) DO UPDATE SET game_broker_id = excluded.game_broker_id`))
	if err != nil {
		return err
	}
	defer link.Close()

	for _, b := range brokers {
		if _, err := addBroker.Exec(b.Name); err != nil {
			return fmt.Errorf("broker %s: %w", b.Name, err)
		}
		var id int64
		if err := findBroker.QueryRow(b.Name).Scan(&id); err != nil {
			return fmt.Errorf("broker %s: %w", b.Name, err)
		}
		if _, err := link.Exec(id, game.GameID, b.Ordinal); err != nil {
			return fmt.Errorf("broker %s in game %s: %w", b.Name, game.GameID, err)
		}
	}
	return tx.Commit()
}

// GameRow is one game with the names of the brokers that played it.
type GameRow struct {
	model.GameInfo
	Brokers []string
}

// ListGames returns stored games ordered by id, each with its brokers
// ordered by in-game id.
func (db *DB) ListGames() ([]GameRow, error) {
	rows, err := db.conn.Query(`
		SELECT g.id, g.size, g.length, COALESCE(b.name, '')
		FROM game g
		LEFT JOIN broker_game bg ON bg.game_id = g.id
		LEFT JOIN broker b ON b.id = bg.broker_id
		ORDER BY g.id, bg.game_broker_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GameRow
	for rows.Next() {
		var g model.GameInfo
		var name string
		if err := rows.Scan(&g.GameID, &g.Size, &g.Length, &name); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].GameID != g.GameID {
			out = append(out, GameRow{GameInfo: g})
		}
		if name != "" {
			last := &out[len(out)-1]
			last.Brokers = append(last.Brokers, name)
		}
	}
	return out, rows.Err()
}

// BrokerGameCounts returns how many stored games each broker appears in.
func (db *DB) BrokerGameCounts() (map[string]int, error) {
	rows, err := db.conn.Query(`
		SELECT b.name, COUNT(bg.game_id)
		FROM broker b LEFT JOIN broker_game bg ON bg.broker_id = b.id
		GROUP BY b.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}
