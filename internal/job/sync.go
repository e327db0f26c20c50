package job

import (
	"context"
	"fmt"
	"strings"
)

// rsyncBaseFlags matches original_source/src/sjef/util/Job.cpp's push_rundir
// and pull_rundir exactly, including the ssh control-master reuse flags:
// spec.md §6 names "rsync" but the distillation dropped the precise flags,
// so they are carried over from the original here.
const rsyncBaseFlags = "--archive --copy-links --timeout=5 --protect-args -v"

const rsyncControlMaster = "ssh -o ControlPath=~/.ssh/sjef-control-%h-%p-%r -o ControlMaster=auto -o ControlPersist=300"

// pushRunDir copies the project directory to the remote cache, excluding
// the property file and its writing-sentinel, and reports whether the
// transfer succeeded along with rsync's stdout/stderr.
func (c *Controller) pushRunDir(ctx context.Context, verbosity int) (ok bool, out, errOut string) {
	if c.remoteCache == "" {
		return true, "", ""
	}

	c.sh.Run(ctx, "mkdir -p '"+c.remoteCache+"'", true, ".", verbosity, "", "")

	command := fmt.Sprintf(
		"%s --rsync-path=%s --exclude=Info.plist --exclude=.Info.plist.writing_object --rsh '%s' '%s/' %s:'%s'",
		rsyncBaseFlags, c.remoteRsync, rsyncControlMaster, c.project.Directory(), c.be.Host, c.remoteCache,
	)
	if verbosity > 0 {
		command += " -v"
	}
	logger.Printf("push rsync: %s", command)

	out, _ = c.localSh.Run(ctx, command, true, ".", verbosity, "", "")
	errOut = c.localSh.Err()
	return !strings.Contains(errOut, "rsync error:"), out, errOut
}

// pullRunDir copies the remote cache back to the project directory,
// excluding the backup/derived subtrees and the property file.
func (c *Controller) pullRunDir(ctx context.Context, verbosity int) (ok bool, out, errOut string) {
	if c.remoteCache == "" {
		return true, "", ""
	}

	command := fmt.Sprintf(
		"%s --rsync-path=%s --exclude=backup --exclude=*.d --exclude=Info.plist --exclude=.Info.plist.writing_object --rsh '%s' %s:'%s/' '%s'",
		rsyncBaseFlags, c.remoteRsync, rsyncControlMaster, c.be.Host, c.remoteCache, c.project.Directory(),
	)
	if verbosity > 0 {
		command += " -v"
	}
	logger.Printf("pull rsync: %s", command)

	out, _ = c.localSh.Run(ctx, command, true, ".", verbosity, "", "")
	errOut = c.localSh.Err()
	return !strings.Contains(errOut, "rsync error:"), out, errOut
}
