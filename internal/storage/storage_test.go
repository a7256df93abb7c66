package storage

import (
	"strings"
	"testing"

	"github.com/powertac/powertac-tools/internal/model"
)

func openMemDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

const gameBrokerOutput = `-- timeslot 1-- timeslot 2-- timeslot 3competition, 12, 1440, 3
broker, default broker, 1
broker, AgentUDE, 7
broker, TUC_TAC, 9
`

func TestParseGameBrokers(t *testing.T) {
	game, brokers, err := ParseGameBrokers(strings.NewReader(gameBrokerOutput))
	if err != nil {
		t.Fatalf("ParseGameBrokers: %v", err)
	}
	if game.GameID != "12" || game.Length != 1440 || game.Size != 3 {
		t.Errorf("game = %+v, want id 12 length 1440 size 3", game)
	}
	if len(brokers) != 3 {
		t.Fatalf("got %d brokers, want 3", len(brokers))
	}
	if brokers[1].Name != "AgentUDE" || brokers[1].Ordinal != 7 {
		t.Errorf("broker[1] = %+v", brokers[1])
	}
}

func TestParseGameBrokersErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"broker, x, 1\n",
		"competition, 12, long, 3\n",
		"competition, 12\n",
		"competition, 12, 10, 1\nbroker, x\n",
	} {
		if _, _, err := ParseGameBrokers(strings.NewReader(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestLoadGameBrokersUpserts(t *testing.T) {
	db := openMemDB(t)
	if _, err := db.LoadGameBrokers(strings.NewReader(gameBrokerOutput)); err != nil {
		t.Fatalf("LoadGameBrokers: %v", err)
	}
	// second game shares two brokers; reloading game 12 must not duplicate rows
	other := "competition, 13, 1500, 2\nbroker, default broker, 1\nbroker, AgentUDE, 4\n"
	if _, err := db.LoadGameBrokers(strings.NewReader(other)); err != nil {
		t.Fatalf("LoadGameBrokers: %v", err)
	}
	if _, err := db.LoadGameBrokers(strings.NewReader(gameBrokerOutput)); err != nil {
		t.Fatalf("reload: %v", err)
	}

	games, err := db.ListGames()
	if err != nil {
		t.Fatalf("ListGames: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("got %d games, want 2", len(games))
	}
	if got := strings.Join(games[0].Brokers, "|"); got != "default broker|AgentUDE|TUC_TAC" {
		t.Errorf("game 12 brokers = %q", got)
	}
	if games[1].Length != 1500 || games[1].Size != 2 {
		t.Errorf("game 13 = %+v", games[1].GameInfo)
	}

	counts, err := db.BrokerGameCounts()
	if err != nil {
		t.Fatalf("BrokerGameCounts: %v", err)
	}
	if counts["AgentUDE"] != 2 || counts["TUC_TAC"] != 1 {
		t.Errorf("counts = %v", counts)
	}
	_, rows, err := db.QueryRaw("SELECT COUNT(1) FROM broker")
	if err != nil {
		t.Fatalf("QueryRaw: %v", err)
	}
	if rows[0][0] != "3" {
		t.Errorf("broker rows = %s, want 3", rows[0][0])
	}
}

func TestExtractionLedger(t *testing.T) {
	db := openMemDB(t)
	recs := []model.ExtractionRecord{
		{GameID: "1", Prefix: "pc", Path: "data/pc1.csv", Status: "ok"},
		{GameID: "2", Prefix: "pc", Path: "data/pc2.csv", Status: "ok", Cached: true},
		{GameID: "3", Prefix: "drs", Status: "error", Message: "exit status 1"},
	}
	for _, r := range recs {
		if err := db.RecordExtraction(r); err != nil {
			t.Fatalf("RecordExtraction: %v", err)
		}
	}

	all, err := db.ListExtractions("", 0)
	if err != nil {
		t.Fatalf("ListExtractions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d rows, want 3", len(all))
	}
	if all[0].GameID != "3" || all[0].Message != "exit status 1" {
		t.Errorf("newest row = %+v", all[0])
	}
	if all[0].At == "" {
		t.Error("At should be stamped")
	}

	pc, err := db.ListExtractions("pc", 1)
	if err != nil {
		t.Fatalf("ListExtractions: %v", err)
	}
	if len(pc) != 1 || pc[0].GameID != "2" || !pc[0].Cached {
		t.Errorf("pc limited = %+v", pc)
	}
}

func TestSaveAccounting(t *testing.T) {
	db := openMemDB(t)
	rows := []model.AccountingRow{
		{GameID: "1", Broker: "AgentUDE", Item: "mtx-c", Value: 10},
		{GameID: "1", Broker: "AgentUDE", Item: "mtx-d", Value: -4},
	}
	if err := db.SaveAccounting(rows); err != nil {
		t.Fatalf("SaveAccounting: %v", err)
	}
	rows[0].Value = 12
	if err := db.SaveAccounting(rows[:1]); err != nil {
		t.Fatalf("SaveAccounting: %v", err)
	}
	_, got, err := db.QueryRaw("SELECT SUM(value) FROM broker_accounting")
	if err != nil {
		t.Fatalf("QueryRaw: %v", err)
	}
	if got[0][0] != "8" && got[0][0] != "8.0" {
		t.Errorf("sum = %s, want 8", got[0][0])
	}
}

func TestQueryRawNullAndError(t *testing.T) {
	db := openMemDB(t)
	cols, rows, err := db.QueryRaw("SELECT NULL AS n, 'x' AS s")
	if err != nil {
		t.Fatalf("QueryRaw: %v", err)
	}
	if len(cols) != 2 || cols[0] != "n" {
		t.Errorf("cols = %v", cols)
	}
	if rows[0][0] != "NULL" || rows[0][1] != "x" {
		t.Errorf("row = %v", rows[0])
	}
	if _, _, err := db.QueryRaw("SELECT * FROM nope"); err == nil {
		t.Error("expected error for unknown table")
	}
}

func TestQueryBuilder(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?"
	if got := NewQueryBuilder(NewDialect(DialectSQLite)).Build(q); got != q {
		t.Errorf("sqlite rewrote query: %s", got)
	}
	want := "SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2"
	if got := NewQueryBuilder(NewDialect(DialectPostgres)).Build(q); got != want {
		t.Errorf("postgres = %s\nwant       %s", got, want)
	}
}

func TestDialectDuplicateKey(t *testing.T) {
	db := openMemDB(t)
	_, err := db.conn.Exec(`INSERT INTO broker(name) VALUES ('a')`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.conn.Exec(`INSERT INTO broker(name) VALUES ('a')`)
	if !db.Dialect().IsDuplicateKeyError(err) {
		t.Errorf("expected duplicate key error, got %v", err)
	}
	if (&PostgresDialect{}).IsDuplicateKeyError(err) {
		t.Error("postgres dialect should not match a sqlite error")
	}
}
