package procmon

import "strings"

// Scenario names a capture profile. Instead of binary filter configs
// loaded into the monitoring tool, scenarios are applied as row
// predicates at conversion time, so the same trace can be re-exported
// under a different scenario without recapturing.
type Scenario string

const (
	ScenarioMalware      Scenario = "malware"
	ScenarioPrivEsc      Scenario = "privilege_escalation"
	ScenarioFileTracking Scenario = "file_tracking"
	ScenarioNetwork      Scenario = "network"
	ScenarioInstall      Scenario = "software_install"
	ScenarioCustom       Scenario = "custom"
)

// Scenarios lists the selectable capture profiles in menu order.
var Scenarios = []Scenario{
	ScenarioMalware,
	ScenarioPrivEsc,
	ScenarioFileTracking,
	ScenarioNetwork,
	ScenarioInstall,
	ScenarioCustom,
}

var scenarioOps = map[Scenario][]string{
	ScenarioMalware: {
		"CreateFile", "WriteFile",
		"SetRenameInformationFile", "SetDispositionInformationFile",
		"RegCreateKey", "RegSetValue", "RegDeleteKey", "RegDeleteValue",
		"TCP Connect", "TCP Send", "TCP Receive",
		"UDP Connect", "UDP Send", "UDP Receive",
		"Load Image", "Process Create",
	},
	ScenarioPrivEsc: {
		"WriteFile", "RegSetValue",
	},
	ScenarioFileTracking: {
		"CreateFile", "WriteFile", "ReadFile",
		"LockFile", "CloseFile", "SetDispositionInformationFile",
	},
	ScenarioNetwork: {
		"TCP Connect", "TCP Send", "TCP Receive",
		"UDP Connect", "UDP Send", "UDP Receive",
	},
	ScenarioInstall: {
		"CreateFile", "WriteFile", "RegSetValue", "RegCreateKey",
		"Process Create", "Load Image",
	},
	ScenarioCustom: {
		"CreateFile", "WriteFile", "RegSetValue", "RegCreateKey",
		"Process Create", "Load Image",
	},
}

// Tooling whose own activity would otherwise dominate a capture.
var noiseProcesses = map[string]bool{
	"procmon.exe":   true,
	"procmon64.exe": true,
	"procexp.exe":   true,
	"procexp64.exe": true,
	"autoruns.exe":  true,
	"system":        true,
}

var noisePathSuffixes = []string{
	"pagefile.sys",
	"$mft", "$mftmirr", "$logfile", "$volume", "$attrdef",
	"$root", "$bitmap", "$boot", "$badclus", "$secure", "$upcase",
}

// ParseScenario maps a user-typed name to a Scenario, defaulting to
// ScenarioCustom for anything unrecognized.
func ParseScenario(name string) Scenario {
	s := Scenario(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := scenarioOps[s]; ok {
		return s
	}
	return ScenarioCustom
}

// IsNoise reports whether an event comes from monitoring tooling itself
// or from NTFS metadata churn. Noise rows are dropped from every scenario
// export.
func IsNoise(ev *Event) bool {
	if noiseProcesses[strings.ToLower(ev.ProcessName)] {
		return true
	}
	if strings.HasPrefix(ev.Operation, "IRP_MJ_") || strings.HasPrefix(ev.Operation, "FASTIO_") {
		return true
	}
	if strings.HasPrefix(ev.Result, "FAST IO") {
		return true
	}
	if ev.EventClass == "Profiling" {
		return true
	}
	lp := strings.ToLower(ev.Path)
	for _, suffix := range noisePathSuffixes {
		if strings.HasSuffix(lp, suffix) {
			return true
		}
	}
	return strings.Contains(lp, "$extend")
}

// Match reports whether the event belongs in this scenario's export.
func (s Scenario) Match(ev *Event) bool {
	if IsNoise(ev) {
		return false
	}
	ops, ok := scenarioOps[s]
	if !ok {
		ops = scenarioOps[ScenarioCustom]
	}
	for _, op := range ops {
		if ev.Operation == op {
			return true
		}
	}
	return false
}
