package xrail

import (
	"fmt"
	"time"
)

// GroupID identifies the handler subsystem that owns a message kind.
type GroupID int

// MessageID identifies a message kind within its group.
type MessageID int

const (
	GroupInternal    GroupID = 1
	GroupClient      GroupID = 2
	GroupServer      GroupID = 3
	GroupTimer       GroupID = 4
	GroupEnvironment GroupID = 5
	GroupInterface   GroupID = 6
	GroupSystem      GroupID = 7
	GroupLayout      GroupID = 8
)

var groupNames = map[GroupID]string{
	GroupInternal:    "INTERNAL",
	GroupClient:      "CLIENT",
	GroupServer:      "SERVER",
	GroupTimer:       "TIMER",
	GroupEnvironment: "ENVIRONMENT",
	GroupInterface:   "INTERFACE",
	GroupSystem:      "SYSTEM",
	GroupLayout:      "LAYOUT",
}

func (g GroupID) String() string {
	if n, ok := groupNames[g]; ok {
		return n
	}
	return fmt.Sprintf("GROUP_%d", int(g))
}

// Kind is the (group, message) pair identifying what a message means.
type Kind struct {
	Group GroupID
	ID    MessageID
}

// Priority is the baseline urgency class of a message kind.
type Priority int

const (
	PriorityRealTime Priority = iota
	PriorityHighest
	PriorityHigh
	PriorityMedium
	PriorityLow
	PriorityLowest
)

// priorityOffsets are added to the creation time to form the trigger timestamp.
var priorityOffsets = [...]time.Duration{
	PriorityRealTime: 0,
	PriorityHighest:  10 * time.Millisecond,
	PriorityHigh:     50 * time.Millisecond,
	PriorityMedium:   100 * time.Millisecond,
	PriorityLow:      500 * time.Millisecond,
	PriorityLowest:   time.Second,
}

// Offset returns the delay added to a message's creation time.
func (p Priority) Offset() time.Duration {
	if p < PriorityRealTime || int(p) >= len(priorityOffsets) {
		return priorityOffsets[PriorityMedium]
	}
	return priorityOffsets[p]
}

func (p Priority) String() string {
	switch p {
	case PriorityRealTime:
		return "real-time"
	case PriorityHighest:
		return "highest"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityLowest:
		return "lowest"
	default:
		return "unknown"
	}
}

// KindInfo is the static classification of a message kind.
type KindInfo struct {
	Name     string
	Priority Priority
}

var (
	KindInternalReset                = Kind{GroupInternal, 1}
	KindInternalShutdown             = Kind{GroupInternal, 2}
	KindInternalHardwareStateChanged = Kind{GroupInternal, 3}
	KindInternalClientShutdown       = Kind{GroupInternal, 4}

	KindClientEchoReq   = Kind{GroupClient, 1}
	KindClientEchoRes   = Kind{GroupClient, 2}
	KindClientError     = Kind{GroupClient, 3}
	KindClientConnected = Kind{GroupClient, 4}
	KindClientClose     = Kind{GroupClient, 5}
	KindClientPing      = Kind{GroupClient, 6}
	KindClientPong      = Kind{GroupClient, 7}

	KindServerClientConnect    = Kind{GroupServer, 1}
	KindServerInfoReq          = Kind{GroupServer, 2}
	KindServerInfoRes          = Kind{GroupServer, 3}
	KindServerConClientsReq    = Kind{GroupServer, 4}
	KindServerConClientsRes    = Kind{GroupServer, 5}
	KindServerNewClientStarted = Kind{GroupServer, 6}
	KindServerClientClosed     = Kind{GroupServer, 7}
	KindServerResetClient      = Kind{GroupServer, 8}
	KindServerReset            = Kind{GroupServer, 9}
	KindServerShutdown         = Kind{GroupServer, 10}
	KindServerAddAllowedIP     = Kind{GroupServer, 11}
	KindServerRemoveAllowedIP  = Kind{GroupServer, 12}
	KindServerSetAllowedIPList = Kind{GroupServer, 13}
	KindServerGetAllowedIPList = Kind{GroupServer, 14}
	KindServerAllowedIPList    = Kind{GroupServer, 15}

	KindTimerGlobalTimerEvent = Kind{GroupTimer, 1}
	KindTimerColorTheme       = Kind{GroupTimer, 2}
	KindTimerGetGlobalTimer   = Kind{GroupTimer, 3}
	KindTimerGlobalTimer      = Kind{GroupTimer, 4}

	KindEnvGetEnvironment  = Kind{GroupEnvironment, 1}
	KindEnvSetEnvironment  = Kind{GroupEnvironment, 2}
	KindEnvSetAmbience     = Kind{GroupEnvironment, 3}
	KindEnvSetAmbientLight = Kind{GroupEnvironment, 4}
	KindEnvEnvironment     = Kind{GroupEnvironment, 5}

	KindInterfaceConnectivity     = Kind{GroupInterface, 1}
	KindInterfaceContactTriggered = Kind{GroupInterface, 2}
	KindInterfaceSwitchAction     = Kind{GroupInterface, 3}

	KindSystemSetAutomaticMode     = Kind{GroupSystem, 1}
	KindSystemSetEmergencyStop     = Kind{GroupSystem, 2}
	KindSystemSetStandbyMode       = Kind{GroupSystem, 3}
	KindSystemGetHardwareState     = Kind{GroupSystem, 4}
	KindSystemHardwareState        = Kind{GroupSystem, 5}
	KindSystemHardwareShutdown     = Kind{GroupSystem, 6}
	KindSystemHardwareReset        = Kind{GroupSystem, 7}
	KindSystemHardwareConnectivity = Kind{GroupSystem, 8}

	KindLayoutGetLayouts   = Kind{GroupLayout, 1}
	KindLayoutLayouts      = Kind{GroupLayout, 2}
	KindLayoutGetLayout    = Kind{GroupLayout, 3}
	KindLayoutLayout       = Kind{GroupLayout, 4}
	KindLayoutSaveLayout   = Kind{GroupLayout, 5}
	KindLayoutDeleteLayout = Kind{GroupLayout, 6}
	KindLayoutChanged      = Kind{GroupLayout, 7}
	KindLayoutDeleted      = Kind{GroupLayout, 8}
	KindLayoutLock         = Kind{GroupLayout, 9}
	KindLayoutUnlock       = Kind{GroupLayout, 10}
	KindLayoutLocked       = Kind{GroupLayout, 11}
	KindLayoutUnlocked     = Kind{GroupLayout, 12}
	KindLayoutGetRoute     = Kind{GroupLayout, 13}
	KindLayoutRoute        = Kind{GroupLayout, 14}
)

// kindTable classifies every known kind. Kinds missing here are still valid
// messages; they are named after their ids and queued at medium priority.
var kindTable = map[Kind]KindInfo{
	KindInternalReset:                {"RESET", PriorityHighest},
	KindInternalShutdown:             {"SHUTDOWN", PriorityHighest},
	KindInternalHardwareStateChanged: {"HARDWARE_STATE_CHANGED", PriorityRealTime},
	KindInternalClientShutdown:       {"CLIENT_SHUTDOWN", PriorityHigh},

	KindClientEchoReq:   {"ECHO_REQ", PriorityLowest},
	KindClientEchoRes:   {"ECHO_RES", PriorityLowest},
	KindClientError:     {"ERROR", PriorityMedium},
	KindClientConnected: {"CONNECTED", PriorityHigh},
	KindClientClose:     {"CLOSE", PriorityHigh},
	KindClientPing:      {"PING", PriorityLowest},
	KindClientPong:      {"PONG", PriorityLowest},

	KindServerClientConnect:    {"CLIENT_CONNECT", PriorityHigh},
	KindServerInfoReq:          {"INFO_REQ", PriorityLow},
	KindServerInfoRes:          {"INFO_RES", PriorityLow},
	KindServerConClientsReq:    {"CON_CLIENTS_REQ", PriorityLow},
	KindServerConClientsRes:    {"CON_CLIENTS_RES", PriorityLow},
	KindServerNewClientStarted: {"NEW_CLIENT_STARTED", PriorityMedium},
	KindServerClientClosed:     {"CLIENT_CLOSED", PriorityMedium},
	KindServerResetClient:      {"RESET_CLIENT", PriorityHigh},
	KindServerReset:            {"RESET", PriorityHighest},
	KindServerShutdown:         {"SHUTDOWN", PriorityHighest},
	KindServerAddAllowedIP:     {"ADD_ALLOWED_IP", PriorityMedium},
	KindServerRemoveAllowedIP:  {"REMOVE_ALLOWED_IP", PriorityMedium},
	KindServerSetAllowedIPList: {"SET_ALLOWED_IP_LIST", PriorityMedium},
	KindServerGetAllowedIPList: {"GET_ALLOWED_IP_LIST", PriorityLow},
	KindServerAllowedIPList:    {"ALLOWED_IP_LIST", PriorityLow},

	KindTimerGlobalTimerEvent: {"GLOBAL_TIMER_EVENT", PriorityMedium},
	KindTimerColorTheme:       {"COLOR_THEME_EVENT", PriorityMedium},
	KindTimerGetGlobalTimer:   {"GET_GLOBAL_TIMER", PriorityLow},
	KindTimerGlobalTimer:      {"GLOBAL_TIMER", PriorityLow},

	KindEnvGetEnvironment:  {"GET_ENVIRONMENT", PriorityLow},
	KindEnvSetEnvironment:  {"SET_ENVIRONMENT", PriorityMedium},
	KindEnvSetAmbience:     {"SET_AMBIENCE", PriorityMedium},
	KindEnvSetAmbientLight: {"SET_AMBIENT_LIGHT", PriorityMedium},
	KindEnvEnvironment:     {"ENVIRONMENT", PriorityMedium},

	KindInterfaceConnectivity:     {"CONNECTIVITY_STATE_CHANGED", PriorityHighest},
	KindInterfaceContactTriggered: {"CONTACT_TRIGGERED", PriorityRealTime},
	KindInterfaceSwitchAction:     {"SWITCH_ACTION", PriorityHigh},

	KindSystemSetAutomaticMode:     {"SET_AUTOMATIC_MODE", PriorityHigh},
	KindSystemSetEmergencyStop:     {"SET_EMERGENCY_STOP", PriorityRealTime},
	KindSystemSetStandbyMode:       {"SET_STANDBY_MODE", PriorityHigh},
	KindSystemGetHardwareState:     {"GET_HARDWARE_STATE", PriorityLow},
	KindSystemHardwareState:        {"HARDWARE_STATE", PriorityMedium},
	KindSystemHardwareShutdown:     {"HARDWARE_SHUTDOWN", PriorityHighest},
	KindSystemHardwareReset:        {"HARDWARE_RESET", PriorityHighest},
	KindSystemHardwareConnectivity: {"HARDWARE_CONNECTIVITY", PriorityHighest},

	KindLayoutGetLayouts:   {"GET_LAYOUTS", PriorityLow},
	KindLayoutLayouts:      {"LAYOUTS", PriorityLow},
	KindLayoutGetLayout:    {"GET_LAYOUT", PriorityLow},
	KindLayoutLayout:       {"LAYOUT", PriorityLow},
	KindLayoutSaveLayout:   {"SAVE_LAYOUT", PriorityLow},
	KindLayoutDeleteLayout: {"DELETE_LAYOUT", PriorityLow},
	KindLayoutChanged:      {"LAYOUT_CHANGED", PriorityLow},
	KindLayoutDeleted:      {"LAYOUT_DELETED", PriorityLow},
	KindLayoutLock:         {"LOCK_LAYOUT", PriorityMedium},
	KindLayoutUnlock:       {"UNLOCK_LAYOUT", PriorityMedium},
	KindLayoutLocked:       {"LAYOUT_LOCKED", PriorityMedium},
	KindLayoutUnlocked:     {"LAYOUT_UNLOCKED", PriorityMedium},
	KindLayoutGetRoute:     {"GET_ROUTE", PriorityMedium},
	KindLayoutRoute:        {"ROUTE", PriorityMedium},
}

// Info returns the classification of k.
func (k Kind) Info() KindInfo {
	if info, ok := kindTable[k]; ok {
		return info
	}
	return KindInfo{Name: fmt.Sprintf("MSG_%d", int(k.ID)), Priority: PriorityMedium}
}

// Known reports whether k is listed in the classification table.
func (k Kind) Known() bool {
	_, ok := kindTable[k]
	return ok
}

// Internal reports whether k belongs to the reserved control group.
func (k Kind) Internal() bool { return k.Group == GroupInternal }

func (k Kind) String() string {
	return k.Group.String() + "." + k.Info().Name
}
