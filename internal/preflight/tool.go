package preflight

import (
	"fmt"

	"github.com/Aman-CERP/clipbridge/internal/locator"
)

// CheckPlatform fails when the OS has no clip_tool build.
func (c *Checker) CheckPlatform(tool locator.Report) CheckResult {
	result := CheckResult{Name: "platform", Required: true, Message: tool.GOOS}
	if !tool.Supported {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not supported", tool.GOOS)
		result.Details = "clip_tool ships for linux, macOS and Windows"
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckTool fails when no clip_tool executable could be found.
func (c *Checker) CheckTool(tool locator.Report) CheckResult {
	result := CheckResult{Name: "clip_tool", Required: true}
	switch {
	case tool.Error != "":
		result.Status = StatusFail
		result.Message = tool.Error
		result.Details = fmt.Sprintf("Install a package folder matching the configured pattern under %s", tool.Root)
	case !tool.Exists:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s does not exist", tool.Executable)
		result.Details = "The package folder is missing the binary for this platform"
	default:
		result.Status = StatusPass
		result.Message = tool.Executable
		result.Details = "package: " + tool.PackageDir
	}
	return result
}

// CheckExecutableBit warns when the binary is not marked executable. Launches
// try to fix the mode, so this is not fatal.
func (c *Checker) CheckExecutableBit(tool locator.Report) CheckResult {
	result := CheckResult{Name: "executable", Required: false}
	switch {
	case !tool.Exists:
		result.Status = StatusWarn
		result.Message = "skipped, clip_tool not found"
	case !tool.ExecBit:
		result.Status = StatusWarn
		result.Message = "clip_tool is not executable"
		result.Details = fmt.Sprintf("clipbridge runs chmod +x on launch; or run: chmod +x %s", tool.Executable)
	default:
		result.Status = StatusPass
		result.Message = "OK"
	}
	return result
}

// CheckIndex warns when no index has been built yet.
func (c *Checker) CheckIndex(tool locator.Report) CheckResult {
	result := CheckResult{Name: "index", Required: false}
	if !tool.IndexExists {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s not built yet", tool.IndexPath)
		result.Details = "Run 'clipbridge index <folder>' to build it"
		return result
	}
	result.Status = StatusPass
	result.Message = tool.IndexPath
	return result
}
