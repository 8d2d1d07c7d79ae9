// Command gbmctl trains and scores histogram-based gradient boosting
// models from the command line.
package main

import "github.com/histoboost/histoboost/cmd/gbmctl/cmd"

func main() {
	cmd.Execute()
}
