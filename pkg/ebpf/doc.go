// Package ebpf mirrors the userspace dataplane state into pinned
// kernel maps so that eBPF enforcement programs can act on the same
// tables the Go engines maintain.
//
// # Architecture
//
// The userspace engines stay authoritative. Every blacklist change,
// socket registration and pair installation is applied to the Go
// tables first and then mirrored here. Kernel programs (an XDP filter
// and a sockops/sk_skb pair, shipped and attached separately) consume
// the pinned maps and enforce the same verdicts before packets reach
// the socket layer:
//
//	┌──────────────────────────────────────────────────────┐
//	│                 User Space (Go)                       │
//	│   filter.Manager    redirect.Registry    proxy        │
//	│        │                  │                │          │
//	│        └─────────┬────────┴────────────────┘          │
//	│                  ▼                                    │
//	│         ebpf.Offload (this package)                   │
//	└──────────────────┬───────────────────────────────────┘
//	                   │ pinned on bpffs
//	                   ▼
//	┌──────────────────────────────────────────────────────┐
//	│                Kernel Space (eBPF)                    │
//	│  ip_blacklist   rate_limit_map   stats_map            │
//	│  sock_pair_map  sock_map                              │
//	│                   ▲                                   │
//	│                   │ looked up per packet              │
//	│     XDP filter / sockops + sk_skb programs            │
//	└──────────────────────────────────────────────────────┘
//
// Map layouts are part of the wire contract with the kernel programs:
//
//	ip_blacklist    hash      u32 -> u8    blocked source addresses
//	rate_limit_map  hash      u32 -> u64   per-source packet counters
//	stats_map       array     u32 -> u64   pipeline counters by stat index
//	sock_pair_map   hash      16B -> 16B   connection key to peer key
//	sock_map        sockhash  16B -> sock  established sockets by key
//
// # Requirements
//
//   - Linux kernel 4.18+ (SOCKHASH, map pinning)
//   - CAP_BPF or CAP_SYS_ADMIN capability
//   - RLIMIT_MEMLOCK high enough for map allocation
//   - build tag "ebpf" (the default build carries no-op stubs)
//
// # Usage
//
//	off, err := ebpf.NewOffload(&cfg.Filter.Offload)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer off.Close()
//
//	if off.IsEnabled() {
//	    off.BlacklistAdd(ip)
//	}
//
// # Fallback Strategy
//
// NewOffload never fails the caller into an unusable state. When the
// platform, privileges or configuration rule the mirror out it returns
// a disabled Offload whose methods are no-ops, and the dataplane keeps
// full functionality in userspace. Only kernel-level enforcement is
// lost.
//
// # Limitations
//
//   - IPv4 TCP only, matching the userspace tables
//   - Requires root or CAP_BPF capability
//   - Programs are not loaded here; operators attach the enforcement
//     programs against the pinned maps out of band
//   - Rate counters are mirrored as table layout plus window resets,
//     not per packet; the kernel filter counts inside the shared window
package ebpf
