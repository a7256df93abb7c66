package model

// LogType selects which session of a game a log belongs to.
type LogType int

const (
	LogSim LogType = iota
	LogBoot
)

func (l LogType) String() string {
	switch l {
	case LogBoot:
		return "boot"
	default:
		return "sim"
	}
}

// DataPrefix returns the data-file prefix for this session. Boot outputs get
// an extra "boot-" segment so they never collide with sim outputs.
func (l LogType) DataPrefix(base string) string {
	if l == LogSim {
		return base
	}
	return base + l.String() + "-"
}

// ParseLogType maps "sim"/"boot" to a LogType. Anything else is sim.
func ParseLogType(s string) LogType {
	if s == "boot" {
		return LogBoot
	}
	return LogSim
}

// ---- Retrieval ----

// GameRef is one row of a tournament manifest.
type GameRef struct {
	GameID string
	LogURL string
}

// GameArchive is a downloaded and unpacked game bundle. Empty paths mean the
// corresponding file was not present in the bundle.
type GameArchive struct {
	GameID     string
	Dir        string // <targetDir>/<gameId>
	BundlePath string
	StateLog   string // log/powertac-sim-<id>.state
	TraceLog   string
	BootLog    string // boot-log/*.state, tournament bundles only
	BootRecord string // bootstrap .xml
}

// Log returns the state log for the requested session.
func (a GameArchive) Log(t LogType) string {
	if t == LogBoot {
		return a.BootLog
	}
	return a.StateLog
}

// DataFile is a per-game artefact produced by an external extractor.
type DataFile struct {
	GameID    string
	Extractor string
	Prefix    string
	Path      string
	Cached    bool // true when the file was already on disk
}

// ---- Aggregation ----

// Observation is one per-timeslot value tagged with its position in the game.
type Observation struct {
	Index int
	Value float64
}

// Peak is an observation that exceeded the running mean + k*sigma threshold.
type Peak struct {
	Index     int
	Threshold float64
	Excess    float64
}

// ---- Game/broker sink ----

type GameInfo struct {
	GameID string
	Length int
	Size   int
}

type BrokerInfo struct {
	Name    string
	Ordinal int
}

// ExtractionRecord is one row of the extraction ledger.
type ExtractionRecord struct {
	GameID  string
	Prefix  string
	Path    string
	Cached  bool
	Status  string
	Message string
	At      string
}

// AccountingRow is one broker's scaled per-game total for a BrokerAccounting
// item.
type AccountingRow struct {
	GameID string
	Broker string
	Item   string
	Value  float64
}
