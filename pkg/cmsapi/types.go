package cmsapi

import "encoding/json"

// RPCRequest is one frame sent to a backend service shard. Frames are
// newline-delimited JSON on a persistent connection; ID correlates the
// eventual response and never carries application meaning.
type RPCRequest struct {
	ID        string          `json:"id"`
	Service   string          `json:"service"`
	Shard     int             `json:"shard"`
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// RPCResponse carries either a result or an error, never both.
type RPCResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ProxyRequest is the browser-facing shape of an RPC invocation. It is
// checked against the allow-list before any frame is sent.
type ProxyRequest struct {
	Service   string          `json:"service"`
	Shard     int             `json:"shard"`
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ProxyResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NotificationItem is one entry of a notification poll. Type is
// "notification" for queued entries and "new_question" for unanswered
// questions computed at poll time.
type NotificationItem struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
}

type NotificationsResponse struct {
	Notifications []NotificationItem `json:"notifications"`
	Unanswered    int                `json:"unanswered"`
}

type TokenSettings struct {
	Initial     int  `json:"token_initial"`
	Max         *int `json:"token_max,omitempty"`
	Total       *int `json:"token_total,omitempty"`
	MinInterval *int `json:"token_min_interval,omitempty"`
	GenTime     *int `json:"token_gen_time,omitempty"`
	GenNumber   *int `json:"token_gen_number,omitempty"`
}

type CreateContestRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Tokens      TokenSettings `json:"tokens"`
	Start       int64         `json:"start"`
	Stop        int64         `json:"stop"`
}

type CreateContestResponse struct {
	ContestID string `json:"contest_id"`
}

type ContestSummary struct {
	ContestID   string `json:"contest_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Start       int64  `json:"start"`
	Stop        int64  `json:"stop"`
	Phase       int    `json:"phase"`
}

type ContestListResponse struct {
	Contests []ContestSummary `json:"contests"`
}

type CreateTaskRequest struct {
	ContestID          string        `json:"contest_id"`
	Name               string        `json:"name"`
	Title              string        `json:"title"`
	TimeLimit          float64       `json:"time_limit"`
	MemoryLimit        int           `json:"memory_limit"`
	TaskType           string        `json:"task_type"`
	TaskTypeParameters []string      `json:"task_type_parameters,omitempty"`
	ScoreType          string        `json:"score_type,omitempty"`
	ScoreParameters    string        `json:"score_parameters,omitempty"`
	SubmissionFormat   []string      `json:"submission_format,omitempty"`
	Tokens             TokenSettings `json:"tokens"`
}

type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

type TaskStatusResponse struct {
	TaskID          string   `json:"task_id"`
	ContestID       string   `json:"contest_id"`
	Name            string   `json:"name"`
	Title           string   `json:"title"`
	TimeLimit       float64  `json:"time_limit"`
	MemoryLimit     int      `json:"memory_limit"`
	TaskType        string   `json:"task_type"`
	StatementDigest string   `json:"statement_digest,omitempty"`
	Testcases       int      `json:"testcases"`
	Attachments     []string `json:"attachments,omitempty"`
}

type UploadResponse struct {
	Digest string `json:"digest"`
}

type TestcaseUploadResponse struct {
	TestcaseID   string `json:"testcase_id"`
	InputDigest  string `json:"input_digest"`
	OutputDigest string `json:"output_digest"`
	Number       int    `json:"number"`
}

type CreateUserRequest struct {
	ContestID string `json:"contest_id"`
	RealName  string `json:"real_name"`
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`
	IP        string `json:"ip,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`
}

type CreateUserResponse struct {
	UserID string `json:"user_id"`
}

type AnnouncementRequest struct {
	ContestID string `json:"contest_id"`
	Subject   string `json:"subject"`
	Text      string `json:"text,omitempty"`
}

type QuestionReplyRequest struct {
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text,omitempty"`
}

type MessageRequest struct {
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
	Text    string `json:"text,omitempty"`
}

type ReevaluateResponse struct {
	Invalidated int `json:"invalidated"`
}

type QuestionSummary struct {
	QuestionID     string `json:"question_id"`
	UserID         string `json:"user_id"`
	Timestamp      int64  `json:"timestamp"`
	Subject        string `json:"subject"`
	Text           string `json:"text,omitempty"`
	ReplySubject   string `json:"reply_subject,omitempty"`
	ReplyText      string `json:"reply_text,omitempty"`
	ReplyTimestamp *int64 `json:"reply_timestamp,omitempty"`
	Answered       bool   `json:"answered"`
}

type QuestionListResponse struct {
	Questions []QuestionSummary `json:"questions"`
}

type AnnouncementSummary struct {
	AnnouncementID string `json:"announcement_id"`
	Timestamp      int64  `json:"timestamp"`
	Subject        string `json:"subject"`
	Text           string `json:"text,omitempty"`
}

type AnnouncementListResponse struct {
	Announcements []AnnouncementSummary `json:"announcements"`
}

type AnnouncementResponse struct {
	AnnouncementID string `json:"announcement_id"`
}

type MessageResponse struct {
	MessageID string `json:"message_id"`
}

// FileRefResponse acknowledges an attachment or manager upload.
type FileRefResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Digest   string `json:"digest"`
}

type ResourceShard struct {
	Shard int    `json:"shard"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
	// Usage fields are filled in when the resource monitor has a
	// recent reading for the shard.
	CPUPercent    *float64 `json:"cpu,omitempty"`
	MemoryPercent *float64 `json:"memory,omitempty"`
	Reachable     *bool    `json:"reachable,omitempty"`
}

type ResourcesResponse struct {
	Shards []ResourceShard `json:"shards"`
}
