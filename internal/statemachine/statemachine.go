// Package statemachine centralizes the EmailStatus transition table as
// data, rather than duplicating status-string literals across every
// workflow node (see spec §9, "per-node status strings duplicated across
// 7 files").
package statemachine

// EmailStatus enumerates every legal state of an EmailMessage (spec §4.5).
type EmailStatus string

const (
	StatusFetched    EmailStatus = "FETCHED"
	StatusProcessing EmailStatus = "PROCESSING"

	StatusOCRProcessing EmailStatus = "OCR_PROCESSING"
	StatusOCRSuccess    EmailStatus = "OCR_SUCCESS"
	StatusOCRFailed     EmailStatus = "OCR_FAILED"

	StatusLLMOCRProcessing EmailStatus = "LLM_OCR_PROCESSING"
	StatusLLMOCRSuccess    EmailStatus = "LLM_OCR_SUCCESS"
	StatusLLMOCRFailed     EmailStatus = "LLM_OCR_FAILED"

	StatusLLMEmailProcessing EmailStatus = "LLM_EMAIL_PROCESSING"
	StatusLLMEmailSuccess    EmailStatus = "LLM_EMAIL_SUCCESS"
	StatusLLMEmailFailed     EmailStatus = "LLM_EMAIL_FAILED"

	StatusLLMSummaryProcessing EmailStatus = "LLM_SUMMARY_PROCESSING"
	StatusLLMSummarySuccess    EmailStatus = "LLM_SUMMARY_SUCCESS"
	StatusLLMSummaryFailed     EmailStatus = "LLM_SUMMARY_FAILED"

	StatusIssueProcessing EmailStatus = "ISSUE_PROCESSING"
	StatusIssueSuccess    EmailStatus = "ISSUE_SUCCESS"
	StatusIssueFailed     EmailStatus = "ISSUE_FAILED"

	StatusSuccess EmailStatus = "SUCCESS"
	StatusFailed  EmailStatus = "FAILED"
)

// Stage describes one pipeline node's slice of the state machine: the set
// of statuses it may start from, and the processing/success/failed
// statuses it transitions through.
type Stage struct {
	Name       string
	AllowedIn  []EmailStatus
	Processing EmailStatus
	Success    EmailStatus
	Failed     EmailStatus
}

// Table is the ordered pipeline of stages, indexed by node name. Nodes
// consult it instead of hardcoding transition literals.
var Table = []Stage{
	{
		Name:       "prepare",
		AllowedIn:  []EmailStatus{StatusFetched, StatusOCRFailed, StatusLLMOCRFailed, StatusLLMEmailFailed, StatusLLMSummaryFailed, StatusIssueFailed},
		Processing: StatusProcessing,
		Success:    StatusProcessing, // prepare has no dedicated success state; OCR's processing state follows directly
		Failed:     StatusFailed,
	},
	{
		Name:       "ocr",
		AllowedIn:  []EmailStatus{StatusProcessing},
		Processing: StatusOCRProcessing,
		Success:    StatusOCRSuccess,
		Failed:     StatusOCRFailed,
	},
	{
		Name:       "llm_attachments",
		AllowedIn:  []EmailStatus{StatusOCRSuccess},
		Processing: StatusLLMOCRProcessing,
		Success:    StatusLLMOCRSuccess,
		Failed:     StatusLLMOCRFailed,
	},
	{
		Name:       "llm_email",
		AllowedIn:  []EmailStatus{StatusLLMOCRSuccess},
		Processing: StatusLLMEmailProcessing,
		Success:    StatusLLMEmailSuccess,
		Failed:     StatusLLMEmailFailed,
	},
	{
		Name:       "summary",
		AllowedIn:  []EmailStatus{StatusLLMEmailSuccess},
		Processing: StatusLLMSummaryProcessing,
		Success:    StatusLLMSummarySuccess,
		Failed:     StatusLLMSummaryFailed,
	},
	{
		Name:       "issue",
		AllowedIn:  []EmailStatus{StatusLLMSummarySuccess},
		Processing: StatusIssueProcessing,
		Success:    StatusIssueSuccess,
		Failed:     StatusIssueFailed,
	},
}

// StageByName looks up a pipeline stage by node name.
func StageByName(name string) (Stage, bool) {
	for _, s := range Table {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// CanEnter reports whether `from` is in the stage's allowed starting set.
func (s Stage) CanEnter(from EmailStatus) bool {
	for _, v := range s.AllowedIn {
		if v == from {
			return true
		}
	}
	return false
}

// ProcessingStatuses lists every *_PROCESSING status, consulted by the
// scheduler's stuck-task reaper (spec §4.6 item 3).
func ProcessingStatuses() []EmailStatus {
	out := make([]EmailStatus, 0, len(Table)+1)
	seen := map[EmailStatus]bool{}
	out = append(out, StatusProcessing)
	seen[StatusProcessing] = true
	for _, s := range Table {
		if !seen[s.Processing] {
			out = append(out, s.Processing)
			seen[s.Processing] = true
		}
	}
	return out
}

// RetryableFailureStatuses lists every *_FAILED status a force replay may
// restart from (used by the scheduler's processing dispatch to pick up
// FETCHED-or-failed rows, and by operator-initiated force reruns).
func RetryableFailureStatuses() []EmailStatus {
	return []EmailStatus{
		StatusOCRFailed,
		StatusLLMOCRFailed,
		StatusLLMEmailFailed,
		StatusLLMSummaryFailed,
		StatusIssueFailed,
		StatusFailed,
	}
}
