package api

type TaskState string

const (
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// Terminal reports whether no further transitions can follow this state.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

type SummaryStatus string

const (
	SummaryPending  SummaryStatus = "pending"
	SummaryApproved SummaryStatus = "approved"
	SummaryRejected SummaryStatus = "rejected"
)

type Health struct {
	Status string `json:"status"`
}

type FileRecord struct {
	ID               string  `json:"id"`
	FileName         string  `json:"file_name"`
	TotalThreads     int     `json:"total_threads"`
	ProcessedThreads int     `json:"processed_threads"`
	UploadedAt       string  `json:"uploaded_at"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
	Progress         float64 `json:"progress"`
}

type UploadResult struct {
	FileID       string    `json:"file_id"`
	FileName     string    `json:"file_name"`
	TotalThreads int       `json:"total_threads"`
	Status       TaskState `json:"status" jsonschema:"enum=processing,enum=completed"`
	Message      string    `json:"message"`
	TaskID       string    `json:"task_id,omitempty"`
}

type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender" jsonschema:"enum=customer,enum=company"`
	Timestamp string `json:"timestamp"`
	Body      string `json:"body"`
}

type Thread struct {
	ThreadID    string    `json:"thread_id"`
	Topic       string    `json:"topic"`
	Subject     string    `json:"subject"`
	InitiatedBy string    `json:"initiated_by" jsonschema:"enum=customer,enum=company"`
	OrderID     string    `json:"order_id"`
	Product     string    `json:"product"`
	Messages    []Message `json:"messages"`
}

type ThreadsResponse struct {
	Version     string   `json:"version"`
	GeneratedAt string   `json:"generated_at"`
	Description string   `json:"description"`
	Threads     []Thread `json:"threads"`
}

type KeyDetails struct {
	OrderID       string   `json:"order_id,omitempty"`
	Product       string   `json:"product,omitempty"`
	CustomerName  *string  `json:"customer_name,omitempty" jsonschema:"nullable"`
	CustomerEmail *string  `json:"customer_email,omitempty" jsonschema:"nullable"`
	OrderDate     *string  `json:"order_date,omitempty" jsonschema:"nullable"`
	OrderStatus   *string  `json:"order_status,omitempty" jsonschema:"nullable"`
	TicketIDs     []string `json:"ticket_ids,omitempty"`
}

type ContextExtraction struct {
	IssueType         string   `json:"issue_type,omitempty"`
	CustomerSentiment string   `json:"customer_sentiment,omitempty"`
	UrgencyLevel      string   `json:"urgency_level,omitempty"`
	CustomerIntent    string   `json:"customer_intent,omitempty"`
	KeyPhrases        []string `json:"key_phrases,omitempty"`
}

type ConfidenceScores struct {
	IssueType         *float64 `json:"issue_type,omitempty" jsonschema:"minimum=0,maximum=100"`
	CustomerSentiment *float64 `json:"customer_sentiment,omitempty" jsonschema:"minimum=0,maximum=100"`
	UrgencyLevel      *float64 `json:"urgency_level,omitempty" jsonschema:"minimum=0,maximum=100"`
	CustomerIntent    *float64 `json:"customer_intent,omitempty" jsonschema:"minimum=0,maximum=100"`
	ResolutionStatus  *float64 `json:"resolution_status,omitempty" jsonschema:"minimum=0,maximum=100"`
}

type StructuredData struct {
	IssueSummary      string             `json:"issue_summary,omitempty"`
	KeyDetails        *KeyDetails        `json:"key_details,omitempty"`
	ContextExtraction *ContextExtraction `json:"context_extraction,omitempty"`
	ResolutionStatus  string             `json:"resolution_status,omitempty"`
	FullSummaryText   string             `json:"full_summary_text,omitempty"`
	ConfidenceScores  *ConfidenceScores  `json:"confidence_scores,omitempty" jsonschema:"nullable"`
}

type Summary struct {
	ID              string          `json:"id"`
	ThreadID        string          `json:"thread_id"`
	OriginalSummary string          `json:"original_summary"`
	EditedSummary   *string         `json:"edited_summary" jsonschema:"nullable"`
	Status          SummaryStatus   `json:"status" jsonschema:"enum=pending,enum=approved,enum=rejected"`
	ApprovedBy      *string         `json:"approved_by" jsonschema:"nullable"`
	ApprovedAt      *string         `json:"approved_at" jsonschema:"nullable"`
	Remarks         *string         `json:"remarks,omitempty" jsonschema:"nullable"`
	RejectionReason *string         `json:"rejection_reason,omitempty" jsonschema:"nullable"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
	StructuredData  *StructuredData `json:"structured_data,omitempty" jsonschema:"nullable"`
}

// Text returns the reviewer-edited summary when present, else the original.
func (s Summary) Text() string {
	if s.EditedSummary != nil && *s.EditedSummary != "" {
		return *s.EditedSummary
	}
	return s.OriginalSummary
}

type TaskStatus struct {
	Status      TaskState `json:"status" jsonschema:"enum=processing,enum=completed,enum=failed"`
	Total       int       `json:"total"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	StartedAt   string    `json:"started_at"`
	CompletedAt *string   `json:"completed_at" jsonschema:"nullable"`
}
