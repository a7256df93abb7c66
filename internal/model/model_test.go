package model

import "testing"

func TestLogTypeDataPrefix(t *testing.T) {
	if got := LogSim.DataPrefix("pc"); got != "pc" {
		t.Errorf("sim prefix = %q", got)
	}
	if got := LogBoot.DataPrefix("pc"); got != "pcboot-" {
		t.Errorf("boot prefix = %q", got)
	}
	if ParseLogType("boot") != LogBoot || ParseLogType("whatever") != LogSim {
		t.Error("ParseLogType mismatch")
	}
}

func TestGameArchiveLog(t *testing.T) {
	a := GameArchive{StateLog: "sim.state", BootLog: "boot.state"}
	if a.Log(LogSim) != "sim.state" || a.Log(LogBoot) != "boot.state" {
		t.Errorf("Log() = %q / %q", a.Log(LogSim), a.Log(LogBoot))
	}
}
