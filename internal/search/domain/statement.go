package domain

// Statement is an executable query produced by a renderer. Args bind to
// the positional placeholders of SQL in order.
type Statement struct {
	SQL  string        `json:"sql"`
	Args []interface{} `json:"args"`
}
