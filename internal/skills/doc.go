// Package skills handles installed-skill metadata and local installation.
//
// # Overview
//
// Skills are directories of instructions an agent can follow, identified by a
// SKILL.md marker file. The backend service owns skill parsing and listing;
// this package covers the two things the gateway itself needs:
//
//   - FormatForPrompt(list): render the installed skills as a system-prompt
//     block, truncating each description to MaxDescriptionChars
//   - Install(agentDir, req): copy a local skill directory into the agent's
//     global or workspace skill directory
//
// # Installation
//
// Install validates the source (must exist, must contain SKILL.md, name must
// be filesystem-safe) and copies it under the target scope directory,
// replacing any existing skill of the same name:
//
//	res, err := skills.Install(agentDir, skills.InstallRequest{
//		Path:      "/home/user/my-skill",
//		Scope:     skills.ScopeWorkspace,
//		Workspace: "default",
//	})
//
// Caller mistakes are reported as ValidationError so the HTTP layer can
// distinguish 400 from 500; check with IsValidation.
package skills
