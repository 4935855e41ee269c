// SPDX-License-Identifier: BSD-3-Clause

package bmc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// protocolClient executes one Request against a concrete out-of-band
// transport, returning combined stdout/stderr and the command's verdict.
type protocolClient interface {
	// query issues a root capability probe, returning the verbs the BMC
	// advertises and, for redfish, the declared schema version.
	query(ctx context.Context, req Request, credPath string) (ActionVerbs, redfishVersion, error)
	// execute runs req.Command against req.Verb, returning combined output.
	execute(ctx context.Context, req Request, credPath string) (string, error)
}

// redfishVersion is the major.minor pair reported by a redfish root query.
type redfishVersion struct {
	Major, Minor int
}

// atLeast reports whether v satisfies the configured minimum.
func (v redfishVersion) atLeast(min redfishVersion) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}
	return v.Minor >= min.Minor
}

// redfishClient shells out to a redfishtool-style CLI.
type redfishClient struct {
	binary string
}

func newRedfishClient() *redfishClient {
	return &redfishClient{binary: "redfishtool"}
}

func (c *redfishClient) query(ctx context.Context, req Request, credPath string) (ActionVerbs, redfishVersion, error) {
	out, err := c.run(ctx, req, credPath, "root")
	if err != nil {
		return ActionVerbs{}, redfishVersion{}, err
	}

	ver := parseRedfishVersion(out)
	verbs := ActionVerbs{
		Graceful:  strings.Contains(out, "GracefulRestart") || strings.Contains(out, "GracefulShutdown"),
		Immediate: strings.Contains(out, "ForceRestart") || strings.Contains(out, "ForceOff"),
	}
	return verbs, ver, nil
}

func (c *redfishClient) execute(ctx context.Context, req Request, credPath string) (string, error) {
	action := redfishActionFor(req.Command, req.Verb)
	return c.run(ctx, req, credPath, action)
}

func (c *redfishClient) run(ctx context.Context, req Request, credPath, action string) (string, error) {
	args := []string{
		"-r", req.BMCIP,
		"-u", req.BMCUser,
		"--passwordFile", credPath,
		action,
	}
	return runTool(ctx, c.binary, args)
}

// ipmiClient shells out to an ipmitool-style CLI. ipmi's verbs are fixed:
// "chassis power" variants exist unconditionally.
type ipmiClient struct {
	binary string
}

func newIPMIClient() *ipmiClient {
	return &ipmiClient{binary: "ipmitool"}
}

func (c *ipmiClient) query(ctx context.Context, req Request, credPath string) (ActionVerbs, redfishVersion, error) {
	// ipmi's verbs are fixed, not discovered: soft (graceful) and cycle/reset
	// (immediate) power control commands are always present.
	return ActionVerbs{Graceful: true, Immediate: true}, redfishVersion{}, nil
}

func (c *ipmiClient) execute(ctx context.Context, req Request, credPath string) (string, error) {
	args := []string{
		"-I", "lanplus",
		"-H", req.BMCIP,
		"-U", req.BMCUser,
		"-f", credPath,
		"chassis", "power", ipmiVerbFor(req.Command, req.Verb),
	}
	return runTool(ctx, c.binary, args)
}

func runTool(ctx context.Context, binary string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrToolStart, err)
	}

	// The credential file stays on disk until the caller removes it after
	// the command (with its retries) has finished.

	if err := cmd.Wait(); err != nil {
		return buf.String(), fmt.Errorf("%w: %w", ErrToolExit, err)
	}

	return buf.String(), nil
}

func redfishActionFor(cmd Command, verb Verb) string {
	switch cmd {
	case CommandPowerOn:
		return "systems -a ComputerSystem.Reset -p ResetType:On"
	case CommandPowerOff:
		if verb == VerbGraceful {
			return "systems -a ComputerSystem.Reset -p ResetType:GracefulShutdown"
		}
		return "systems -a ComputerSystem.Reset -p ResetType:ForceOff"
	case CommandPowerReset, CommandPowerCycle:
		if verb == VerbGraceful {
			return "systems -a ComputerSystem.Reset -p ResetType:GracefulRestart"
		}
		return "systems -a ComputerSystem.Reset -p ResetType:ForceRestart"
	case CommandPowerStatus:
		return "systems"
	case CommandBMCInfo:
		return "managers"
	case CommandRestartCause:
		return "systems -p LastResetType"
	case CommandBootDevPXE:
		return "systems -a ComputerSystem.Reset -p Boot/BootSourceOverrideTarget:Pxe"
	case CommandReadSensors:
		return "chassis -p Thermal"
	case CommandConfigApply:
		return "accounts -a ManagerAccount.ChangePassword"
	default:
		return "root"
	}
}

func ipmiVerbFor(cmd Command, verb Verb) string {
	switch cmd {
	case CommandPowerOn:
		return "on"
	case CommandPowerOff:
		if verb == VerbGraceful {
			return "soft"
		}
		return "off"
	case CommandPowerReset, CommandPowerCycle:
		if verb == VerbGraceful {
			return "soft"
		}
		return "cycle"
	case CommandPowerStatus:
		return "status"
	case CommandConfigApply:
		return "user"
	default:
		return "status"
	}
}

// parseRedfishVersion extracts a "RedfishVersion": "1.6.0"-shaped field from
// a raw CLI output blob. Real redfishtool output is JSON; this is a
// deliberately tolerant scan rather than a full JSON parse since field
// placement varies across BMC vendors.
func parseRedfishVersion(out string) redfishVersion {
	idx := strings.Index(out, "RedfishVersion")
	if idx < 0 {
		return redfishVersion{}
	}
	rest := out[idx:]
	start := strings.IndexByte(rest, ':')
	if start < 0 {
		return redfishVersion{}
	}
	rest = strings.TrimLeft(rest[start+1:], " \t\"")
	end := strings.IndexAny(rest, "\",}\n")
	if end < 0 {
		end = len(rest)
	}
	parts := strings.SplitN(rest[:end], ".", 3)
	if len(parts) < 2 {
		return redfishVersion{}
	}
	major, _ := strconv.Atoi(parts[0])
	minor, _ := strconv.Atoi(parts[1])
	return redfishVersion{Major: major, Minor: minor}
}
