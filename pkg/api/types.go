package api

// Document statuses reported by the document store. A document starts
// pending, moves to processing while the server extracts and indexes
// its text, and ends up indexed or failed.
const (
	DocPending    = "pending"
	DocProcessing = "processing"
	DocIndexed    = "indexed"
	DocFailed     = "failed"
)

// Scan statuses reported by the scan service.
const (
	ScanQueued    = "queued"
	ScanScanning  = "scanning"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
)

// DocTerminal reports whether a document status can still change
// server-side.
func DocTerminal(status string) bool {
	return status == DocIndexed || status == DocFailed
}

// ScanTerminal reports whether a scan status can still change
// server-side.
func ScanTerminal(status string) bool {
	return status == ScanCompleted || status == ScanFailed
}

type Document struct {
	ID       int64
	Filename string
	Status   string
}

// ScanHandle is returned synchronously when a scan is initiated.
type ScanHandle struct {
	ScanID int64
}

// Scan is the server's snapshot of one scan. Score and Report are
// populated only once Status is completed; failed scans carry the
// server's error message in Report.Error.
type Scan struct {
	ScanID     int64
	DocumentID int64
	Status     string
	Score      float64
	Report     *Report
}

type Report struct {
	TotalChunks   int
	MatchedChunks int
	Matches       []Match
	AIDetection   *AIDetection
	Error         string
}

type Match struct {
	ChunkIndex int
	ChunkText  string
	BestMatch  BestMatch
}

// BestMatch is the strongest hit for one chunk. SourceDocID may point
// at any indexed document, not necessarily one owned by the scan.
type BestMatch struct {
	Score       float64 // cosine similarity, 0.0-1.0
	Text        string
	SourceDocID int64
}

type AIDetection struct {
	AIProbability float64
	Label         string
}
