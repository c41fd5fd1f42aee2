package consts

// Reply sent for a rejected transaction unless [reject] overrides it.
const (
	DefaultRejectCode    = 550
	DefaultRejectMessage = "Blacklisted keyphrase found"
)

// EndOfDataLine is the data-line payload that terminates a message.
const EndOfDataLine = "."
