package transport

// OfflineStatus reports whether the host OS currently believes the
// network is unreachable (§6 "offline-probe helper"). No package of the
// client consults it; connect attempts are made regardless. This is a true external collaborator: TLCP specifies only
// the interface, the OS-specific reachability check (e.g. polling
// SCNetworkReachability on Darwin, netlink on Linux) is supplied by the
// host application.
type OfflineStatus interface {
	IsOffline() bool
}

// AlwaysOnline is the default OfflineStatus used when the host
// application supplies none: never skips a connect attempt.
type AlwaysOnline struct{}

func (AlwaysOnline) IsOffline() bool { return false }
