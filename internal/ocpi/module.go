package ocpi

import (
	"fmt"
	"strings"
)

// ModuleID names an OCPI module. Custom modules use their own free-form id.
type ModuleID string

const (
	ModuleCdrs             ModuleID = "cdrs"
	ModuleChargingProfiles ModuleID = "chargingprofiles"
	ModuleCommands         ModuleID = "commands"
	ModuleCredentials      ModuleID = "credentials"
	ModuleHubClientInfo    ModuleID = "hubclientinfo"
	ModuleLocations        ModuleID = "locations"
	ModuleSessions         ModuleID = "sessions"
	ModuleTariffs          ModuleID = "tariffs"
	ModuleTokens           ModuleID = "tokens"
	ModuleVersions         ModuleID = "versions"
)

// InterfaceRole is the side of a module an endpoint implements.
type InterfaceRole string

const (
	InterfaceSender   InterfaceRole = "SENDER"
	InterfaceReceiver InterfaceRole = "RECEIVER"
)

// ParseInterfaceRole accepts the path form ("sender") or the OCPI form ("SENDER").
func ParseInterfaceRole(s string) (InterfaceRole, error) {
	switch strings.ToUpper(s) {
	case string(InterfaceSender):
		return InterfaceSender, nil
	case string(InterfaceReceiver):
		return InterfaceReceiver, nil
	}
	return "", fmt.Errorf("unknown interface role %q", s)
}

// PathSegment returns the lower-case form used in URLs.
func (r InterfaceRole) PathSegment() string {
	return strings.ToLower(string(r))
}

// Interface is one {module, interface role} combination.
type Interface struct {
	Module ModuleID
	Role   InterfaceRole
}

// Behaviour describes how the node treats an Interface.
type Behaviour struct {
	// Forwardable is false for modules the node answers itself.
	Forwardable bool
	// CallbackField is the top-level body field carrying an async
	// response_url, empty for synchronous interfaces.
	CallbackField string
}

var behaviours = map[Interface]Behaviour{
	{ModuleCdrs, InterfaceSender}:               {Forwardable: true},
	{ModuleCdrs, InterfaceReceiver}:             {Forwardable: true},
	{ModuleChargingProfiles, InterfaceSender}:   {Forwardable: true},
	{ModuleChargingProfiles, InterfaceReceiver}: {Forwardable: true, CallbackField: "response_url"},
	{ModuleCommands, InterfaceSender}:           {Forwardable: true},
	{ModuleCommands, InterfaceReceiver}:         {Forwardable: true, CallbackField: "response_url"},
	{ModuleLocations, InterfaceSender}:          {Forwardable: true},
	{ModuleLocations, InterfaceReceiver}:        {Forwardable: true},
	{ModuleSessions, InterfaceSender}:           {Forwardable: true},
	{ModuleSessions, InterfaceReceiver}:         {Forwardable: true},
	{ModuleTariffs, InterfaceSender}:            {Forwardable: true},
	{ModuleTariffs, InterfaceReceiver}:          {Forwardable: true},
	{ModuleTokens, InterfaceSender}:             {Forwardable: true},
	{ModuleTokens, InterfaceReceiver}:           {Forwardable: true},
	{ModuleCredentials, InterfaceSender}:        {},
	{ModuleCredentials, InterfaceReceiver}:      {},
	{ModuleHubClientInfo, InterfaceSender}:      {},
	{ModuleHubClientInfo, InterfaceReceiver}:    {},
	{ModuleVersions, InterfaceSender}:           {},
	{ModuleVersions, InterfaceReceiver}:         {},
}

// BehaviourOf looks up the behaviour of a module interface. Custom modules
// are always forwarded verbatim; unknown standard modules are not forwarded.
func BehaviourOf(module ModuleID, role InterfaceRole, custom bool) Behaviour {
	if custom {
		return Behaviour{Forwardable: true}
	}
	return behaviours[Interface{Module: module, Role: role}]
}

// IsStandard reports whether the module id is one of the OCPI 2.2 modules.
func IsStandard(module ModuleID) bool {
	_, ok := behaviours[Interface{Module: module, Role: InterfaceSender}]
	return ok
}

// Opposite returns the other side of the module, where callbacks land.
func (r InterfaceRole) Opposite() InterfaceRole {
	if r == InterfaceSender {
		return InterfaceReceiver
	}
	return InterfaceSender
}
