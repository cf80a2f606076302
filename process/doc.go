// Package process starts, signals and reaps child processes on Unix.
//
// # Process
//
// A Process describes one invocation: command tokens, working directory,
// environment overrides, output redirections and an optional process group.
// Start launches it and only returns once the outcome is certain:
//
//	p := process.New(process.WithRegistry(reg))
//	p.Push("make", "-j4")
//	p.SetWorkDir("/src/project")
//	p.RedirectToPath(process.Stdout, "build.log")
//	if err := p.Start(); err != nil {
//	    // *LaunchError: the directory or the program was unusable
//	    // *ResourceError: pipes, descriptors or the spawn itself failed
//	}
//	defer p.Close()
//	_ = p.Wait()
//	fmt.Println(p.ExitNormal(), p.ExitStatus())
//
// # Launch Protocol
//
// Start re-executes the current binary as a launcher that receives the
// request over a pipe, applies it to itself and execs the program. Failures
// between the spawn and the exec come back over a close-on-exec pipe; a
// successful exec closes that pipe and the parent reads EOF. Binaries must
// therefore call Init at the top of main, and tests from TestMain.
//
// # Registry
//
// A Registry keeps the pids of running processes. InstallInterruptHandler
// hooks a Registry to SIGINT so that interrupting the supervisor terminates
// every supervised child.
//
// # Thread Safety
//
// Process and Registry are safe for concurrent use.
package process
