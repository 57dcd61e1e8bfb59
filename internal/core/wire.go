package core

// wireEvent is the JSON shape of one Subscribe message. Either, both or
// neither of the two parts may be set.
type wireEvent struct {
	TaskEvent *struct {
		Name     string `json:"name"`
		TaskID   string `json:"taskid"`
		State    string `json:"state"`
		Status   string `json:"status"`
		Hostname string `json:"hostname"`
	} `json:"taskEvent,omitempty"`
	EnvironmentEvent *struct {
		EnvironmentID string `json:"environmentId"`
		State         string `json:"state"`
		Message       string `json:"message"`
		Error         string `json:"error"`
	} `json:"environmentEvent,omitempty"`
}

func (w wireEvent) events() []Event {
	var out []Event
	if t := w.TaskEvent; t != nil {
		out = append(out, TaskEvent{TaskID: t.TaskID, Name: t.Name, Hostname: t.Hostname, State: t.State, Status: t.Status})
	}
	if e := w.EnvironmentEvent; e != nil {
		out = append(out, EnvironmentEvent{EnvironmentID: e.EnvironmentID, State: e.State, Message: e.Message, Error: e.Error})
	}
	return out
}
