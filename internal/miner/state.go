package miner

// State identifies the scheduler phase. The run loop owns the current state;
// other goroutines request transitions through changeState and the run loop
// picks them up on its next wakeup.
type State int

const (
	StateIdle State = iota
	StateInventoryFetch
	StateGamesUpdate
	StateChannelsCleanup
	StateChannelsFetch
	StateChannelSwitch
	StateExit
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInventoryFetch:
		return "INVENTORY_FETCH"
	case StateGamesUpdate:
		return "GAMES_UPDATE"
	case StateChannelsCleanup:
		return "CHANNELS_CLEANUP"
	case StateChannelsFetch:
		return "CHANNELS_FETCH"
	case StateChannelSwitch:
		return "CHANNEL_SWITCH"
	case StateExit:
		return "EXIT"
	}
	return "UNKNOWN"
}
