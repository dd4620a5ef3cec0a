package agent

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
)

var (
	mdHeader = regexp.MustCompile(`^(md\S+)\s*:\s*(\S+)\s*(.*)$`)
	mdCounts = regexp.MustCompile(`\[(\d+)/(\d+)\]\s*\[([U_]+)\]`)
	mdMember = regexp.MustCompile(`^([^\[\s]+)\[(\d+)\]((?:\([A-Z]\))*)$`)
	mdSync   = regexp.MustCompile(`\b(recovery|resync|reshape)\s*=`)
)

// ParseMdstat reads the arrays described by a /proc/mdstat listing.
func ParseMdstat(r io.Reader) ([]domain.RaidArray, error) {
	var (
		arrays  []domain.RaidArray
		cur     *domain.RaidArray
		syncing bool
	)
	finish := func() {
		if cur == nil {
			return
		}
		cur.Status = mdStatus(*cur, syncing)
		arrays = append(arrays, *cur)
		cur, syncing = nil, false
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			finish()
		case strings.HasPrefix(line, "Personalities"), strings.HasPrefix(line, "unused devices"):
			finish()
		case mdHeader.MatchString(line):
			finish()
			cur = parseMdHeader(mdHeader.FindStringSubmatch(line))
		case cur == nil:
		case mdCounts.MatchString(line):
			m := mdCounts.FindStringSubmatch(line)
			cur.Devices, _ = strconv.Atoi(m[1])
			cur.ActiveDevices, _ = strconv.Atoi(m[2])
		case mdSync.MatchString(line):
			syncing = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read mdstat: %w", err)
	}
	finish()
	return arrays, nil
}

// parseMdHeader handles "md0 : active raid1 sdb1[1] sda1[0](F)".
func parseMdHeader(m []string) *domain.RaidArray {
	a := &domain.RaidArray{Device: "/dev/" + m[1]}
	if m[2] == "inactive" {
		a.Status = "inactive"
	}

	for _, f := range strings.Fields(m[3]) {
		if strings.HasPrefix(f, "(") {
			continue // (auto-read-only), (read-only)
		}
		if strings.HasPrefix(f, "raid") || f == "linear" || f == "multipath" {
			a.Level = f
			continue
		}
		mm := mdMember.FindStringSubmatch(f)
		if mm == nil {
			continue
		}
		disk := domain.RaidDisk{Device: "/dev/" + mm[1], Role: mm[2], State: "active"}
		switch {
		case strings.Contains(mm[3], "(F)"):
			disk.State = "faulty"
			a.FailedDevices++
		case strings.Contains(mm[3], "(S)"):
			disk.State = "spare"
			a.SpareDevices++
		}
		a.Disks = append(a.Disks, disk)
	}
	return a
}

func mdStatus(a domain.RaidArray, syncing bool) string {
	switch {
	case a.Status == "inactive":
		return domain.RaidFailed
	case syncing:
		return domain.RaidRecovering
	case a.Devices > 0 && a.ActiveDevices < a.Devices:
		return domain.RaidDegraded
	case a.FailedDevices > 0:
		return domain.RaidDegraded
	default:
		return domain.RaidHealthy
	}
}
