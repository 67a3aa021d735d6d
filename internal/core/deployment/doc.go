// Package deployment provides pure functions for deployment planning.
//
// This package contains the functional core logic for turning a code
// iteration into a runnable container. All functions are pure (no I/O,
// no side effects).
//
// # Functions
//
//   - Naming: derive resource names and paths (ContainerName, ImageTag, BuildDir)
//   - Ports: ascending host port allocation (AllocatePort)
//   - Detection: language and framework census (DetectLanguage, DetectFramework)
//   - Synthesis: default build descriptors (SynthesizeDockerfile, SynthesizeStartScript)
//   - Variables: substitute environment placeholders (SubstituteVariables)
//   - Planning: container creation plans (BuildContainerPlan)
//   - Retention: cleanup selection and stop gating (CleanupVictims, CanStop)
//
// # Usage
//
// The imperative shell (internal/shell/deployer) walks iteration trees and
// feeds listings, file contents, and used-port sets in, then executes the
// returned plans via the Docker engine.
//
//	name := deployment.ContainerName(iterationID)
//	port, err := deployment.AllocatePort(used, deployment.DefaultPortRange)
//	plan := deployment.BuildContainerPlan(params)
package deployment
