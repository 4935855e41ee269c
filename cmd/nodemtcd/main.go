// SPDX-License-Identifier: BSD-3-Clause

// Command nodemtcd is the node maintenance control-plane daemon: it runs the
// per-node FSM, the MNFA controller, the BMC executor pool, and the host
// watchdog under a single supervision tree, wired together over an embedded
// NATS server.
package main

import (
	"context"
	"time"

	"github.com/nodemtc/nodemtc/pkg/bmc"
	"github.com/nodemtc/nodemtc/pkg/hostwd"
	"github.com/nodemtc/nodemtc/pkg/mnfa"
	hostwdsvc "github.com/nodemtc/nodemtc/service/hostwd"
	"github.com/nodemtc/nodemtc/service/nodemtcd"
	"github.com/nodemtc/nodemtc/service/operator"
)

func main() {
	bmcConfig := []bmc.Option{
		bmc.WithWorkers(4),
		bmc.WithQueueDepth(64),
		bmc.WithCommandTimeout(30 * time.Second),
		bmc.WithRetryAttempts(3),
		bmc.WithOutputBase("/var/run/nodemtc/bmc"),
		bmc.WithMinRedfishVersion(1, 6),
	}

	mnfaConfig := []mnfa.Option{
		mnfa.WithThreshold(2),
		mnfa.WithTimeout(5 * time.Minute),
		mnfa.WithDebounce(10 * time.Second),
		mnfa.WithFailureAction(mnfa.FailureActionFail),
	}

	nodemtcdConfig := []nodemtcd.Option{
		nodemtcd.WithTickInterval(500 * time.Millisecond),
		nodemtcd.WithBMCOptions(bmcConfig...),
		nodemtcd.WithMNFAOptions(mnfaConfig...),
	}

	hostwdConfig := []hostwdsvc.Option{
		hostwdsvc.WithWatchdogOptions(
			hostwd.WithFailureThreshold(5),
			hostwd.WithRebootOnErr(true),
			hostwd.WithUseKernWD(true),
			hostwd.WithKdumpOnStall(false),
			hostwd.WithUpdatePeriod(5*time.Second),
		),
	}

	if err := operator.New(
		operator.WithName("nodemtcd"),
		operator.WithNodemtcd(nodemtcdConfig...),
		operator.WithHostwd(hostwdConfig...),
	).Run(context.Background(), nil); err != nil {
		panic(err)
	}
}
