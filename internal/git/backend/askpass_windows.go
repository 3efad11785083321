//go:build windows

package backend

const askpassSuffix = ".cmd"

const askpassScript = "@echo off\r\n" +
	"set prompt=%1\r\n" +
	"echo %prompt%| findstr /I \"Username\" >nul\r\n" +
	"if %errorlevel%==0 (\r\n" +
	"  echo %GITCORE_ASKPASS_USERNAME%\r\n" +
	") else (\r\n" +
	"  echo %GITCORE_ASKPASS_PASSWORD%\r\n" +
	")\r\n"
