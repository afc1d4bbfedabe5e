// Package extbridge connects a host application to an out-of-process
// extension runtime. The runtime speaks length-prefixed CBOR envelopes over
// a byte stream; extensions push declarative UI trees that the bridge turns
// into view models for the host's Sink.
//
// The sub-packages can be used on their own; this package re-exports the
// types most hosts need.
package extbridge

import (
	"github.com/machinefabric/extbridge-go/bifaci"
	"github.com/machinefabric/extbridge-go/config"
	"github.com/machinefabric/extbridge-go/render"
	"github.com/machinefabric/extbridge-go/session"
)

// Host-facing UI types
type Sink = render.Sink
type ViewHandle = render.ViewHandle
type Model = render.Model
type SelectionPolicy = render.SelectionPolicy

const (
	PreserveSelection = render.PreserveSelection
	SelectFirst       = render.SelectFirst
)

// Session types
type Controller = session.Controller
type LaunchSpec = session.LaunchSpec
type Services = session.Services
type State = session.State

// Wire errors
type BusError = bifaci.BusError
type RemoteError = bifaci.RemoteError

var (
	ErrTransportClosed = bifaci.ErrTransportClosed
	ErrRequestTimeout  = bifaci.ErrRequestTimeout
	ErrFrameTooLarge   = bifaci.ErrFrameTooLarge
)

// Config
type Config = config.Config

var LoadConfig = config.Load
var DefaultConfig = config.Default
