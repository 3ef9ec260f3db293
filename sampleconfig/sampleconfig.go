// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sampleconfig

// FileContents is a string containing the commented example config for
// txrelayd.
const FileContents = `[Application Options]

; ------------------------------------------------------------------------------
; Data settings
; ------------------------------------------------------------------------------

; The directory to store data such as the ban list and unspent outputs.  The
; default is ~/.txrelayd/data on POSIX OSes, $LOCALAPPDATA/Txrelayd/data on
; Windows and ~/Library/Application Support/Txrelayd/data on macOS.
; Environment variables are expanded so they may be used.  NOTE: Windows
; environment variables are typically %VARIABLE%, but they must be accessed
; with $VARIABLE here.
; datadir=~/.txrelayd/data

; Database backend the ban list and unspent outputs are stored in.  Valid
; options are leveldb and pebble.
; dbtype=leveldb


; ------------------------------------------------------------------------------
; Network settings
; ------------------------------------------------------------------------------

; Use testnet.
; testnet=1

; Connect via a SOCKS5 proxy.  Only outbound connections are proxied.
; proxy=127.0.0.1:9050
; proxyuser=
; proxypass=

; Specify the interfaces to listen on.  One listen address per line.
; The default port is 8433 on mainnet and 18433 on testnet.
; listen=0.0.0.0           ; all IPv4 interfaces on the default port
; listen=127.0.0.1:8433    ; localhost on port 8433
; listen=[::1]:8433        ; IPv6 localhost on port 8433

; Peers to keep a persistent connection to.  Lost connections are retried.
; connect=10.0.0.2:8433
; connect=[fe80::2]:8433

; Maximum number of inbound and outbound peers.
; maxpeers=125

; How long to ban peers that relay invalid transactions or lie about their
; cost.  Valid time units are {s, m, h}.  Minimum 1 second.
; banduration=72h


; ------------------------------------------------------------------------------
; Relay settings
; ------------------------------------------------------------------------------

; Maximum number of peers an accepted transaction is relayed to.
; maxrelaypeers=128

; Number of recently seen transactions remembered across all peers.
; txfiltersize=50000

; Number of transactions remembered for every peer.
; knowntxsperpeer=500

; Maximum serialized size in bytes of an accepted transaction.
; maxtxsize=100000

; Maximum verification cycles of an accepted transaction.
; maxtxcycles=70000000


; ------------------------------------------------------------------------------
; Monitoring
; ------------------------------------------------------------------------------

; Serve prometheus metrics on this interface/port.  Disabled when empty.
; metricslisten=127.0.0.1:9433

; Minimum interval between two relay statistics log lines.
; statsinterval=10s

; Sentry DSN alerts about peers relaying invalid transactions are sent to.
; Alerts are only logged when empty.
; sentrydsn=


; ------------------------------------------------------------------------------
; Debug
; ------------------------------------------------------------------------------

; Debug logging level.
; Valid levels are {trace, debug, info, warn, error, critical}
; You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set
; log level for individual subsystems.  Use txrelayd --debuglevel=show to list
; available subsystems.
; debuglevel=info

; The directory to store the log files in.
; logdir=~/.txrelayd/logs
`
