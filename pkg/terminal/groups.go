package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	runCmds
	dataCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the simulator", runCmds},
	{"Viewing registers", dataCmds},
	{"Other commands", otherCmds},
}
