/*
Package bisector provides a Go interface for finding the first test case at which two builds of a library disagree.

A bisection compares two oracles, a reference and a candidate, which are usually pre-built test binaries linked against a known good and a to be tested version of a library.
Both oracles are invoked with identical arguments and their captured standard output is compared byte for byte.
An [Oracle] is anything that can be invoked with arguments and produces output, see [ExecOracle], [DockerOracle] and [OracleFunc].

Oracles are paired up in a [Pair], which controls the order of invocations, timeouts and how oracle failures are treated.
A pair can then be scanned with one of the two drivers:
  - [ScanChunks] bisects successive windows of test cases, by default 100000 at a time starting at 1, until a window contains a divergence
  - [ScanFixed] probes a single bound, by default 3000000, and bisects the range up to it if the oracles disagree

Both return a [Divergence] describing the first diverging test case, or nil if none was found.

For running multiple bisections at once, a [Job] can be created by passing in a job config to [GetJobFromConfig] and started using [Job.Run].
*/
package bisector
