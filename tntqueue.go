package tntqueue

var (
	Name    = "tntqueue"
	Version = "0.1.0"
)
