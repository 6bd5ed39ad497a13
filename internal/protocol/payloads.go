package protocol

// --- AGV -> Server payloads ---

// LoginReq is sent once, immediately after connecting.
type LoginReq struct {
	AgvId      int    `json:"agvId"`
	Password   string `json:"password"`
	Version    string `json:"version"`
	InitialPos Point  `json:"initialPos"`
}

// Heartbeat is sent periodically by a logged-in vehicle.
type Heartbeat struct {
	AgvId      int       `json:"agvId"`
	Status     AgvStatus `json:"status"`
	CurrentPos Point     `json:"currentPos"`
	Battery    float64   `json:"battery"`
	Timestamp  int64     `json:"timestamp"`
}

// TaskReport is sent in response to a server-issued TaskRequest, and
// again as the vehicle progresses toward (or fails) the task.
type TaskReport struct {
	TaskId     string    `json:"taskId"`
	AgvId      int       `json:"agvId"`
	Status     AgvStatus `json:"status"`
	CurrentPos Point     `json:"currentPos"`
	Progress   float64   `json:"progress"`
	RefSeq     int32     `json:"refSeq"`
}

// PathReq asks the server to compute a path between two cells.
type PathReq struct {
	MapId       int   `json:"mapId"`
	Start       Point `json:"start"`
	End         Point `json:"end"`
	AllowReplan bool  `json:"allowReplan"`
}

// --- Server -> AGV payloads ---

// LoginResp answers a LoginReq.
type LoginResp struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Message string `json:"message"`
}

// TaskRequest is sent by the server when an order is assigned to a
// vehicle.
type TaskRequest struct {
	TaskId      string     `json:"taskId"`
	TargetAgvId int        `json:"targetAgvId"`
	TargetPos   Point      `json:"targetPos"`
	TargetAct   ActionType `json:"targetAct"`
	Priority    int        `json:"priority"`
}

// PathResp answers a PathReq.
type PathResp struct {
	Success    bool    `json:"success"`
	PathPoints []Point `json:"pathPoints"`
	FailReason string  `json:"failReason"`
}
