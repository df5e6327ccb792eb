// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package conf holds the configuration of the buffer cache, the vnode layer
// and the drivers and file systems stacked on them.
//
// A ConfMap is accessed via confMap[section_name][option_name][option_value_index]
// or via the Fetch methods below.
package conf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type ConfMapOption []string
type ConfMapSection map[string]ConfMapOption
type ConfMap map[string]ConfMapSection

// MakeConfMap returns a newly created empty ConfMap
func MakeConfMap() (confMap ConfMap) {
	confMap = make(ConfMap)
	return
}

// MakeConfMapFromStrings returns a newly created ConfMap loaded with the contents specified in confStrings
func MakeConfMapFromStrings(confStrings []string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromStrings(confStrings)
	if nil != err {
		err = fmt.Errorf("Error building confMap from conf strings: %v", err)
	}
	return
}

// MakeConfMapFromFile returns a newly created ConfMap loaded with the contents of the confFilePath-specified file
func MakeConfMapFromFile(confFilePath string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromFile(confFilePath)
	return
}

const assignment = "([ \t]*[=:][ \t]*)"
const separator = "([ \t]+|([ \t]*,[ \t]*))"
const token = "(([0-9A-Za-z_\\*\\-/:\\.\\[\\]]+)\\$?)"

// A string to load looks like:
//
//   <section_name>.<option_name> =
//   <section_name>.<option_name> : <value>
//   <section_name>.<option_name> = <value_0>, <value_1> <value_2>

var stringRE = regexp.MustCompile("\\A" + token + "(\\.)" + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")
var optionLineRE = regexp.MustCompile("\\A" + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")
var sectionHeaderLineRE = regexp.MustCompile("\\A\\[" + token + "\\]\\z")
var includeLineRE = regexp.MustCompile("\\A\\.include[ \t]+" + token + "\\z")

var assignmentRE = regexp.MustCompile(assignment)
var separatorRE = regexp.MustCompile(separator)

func splitValues(optionValues string) (values []string) {
	values = separatorRE.Split(optionValues, -1)
	if (1 == len(values)) && ("" == values[0]) {
		values = []string{}
	}
	return
}

func (confMap ConfMap) set(sectionName string, optionName string, values []string) {
	section, found := confMap[sectionName]
	if !found {
		section = make(ConfMapSection)
		confMap[sectionName] = section
	}
	section[optionName] = values
}

// UpdateFromString modifies a pre-existing ConfMap based on an update
// specified in confString (e.g., "BufCache.PageSize=4096")
func (confMap ConfMap) UpdateFromString(confString string) (err error) {
	trimmed := strings.Trim(confString, " \t")

	if 0 == len(trimmed) {
		err = fmt.Errorf("trimmed confString: \"%v\" was found to be empty", confString)
		return
	}
	if !stringRE.MatchString(trimmed) {
		err = fmt.Errorf("malformed confString: \"%v\"", confString)
		return
	}

	sectionAndPayload := strings.SplitN(trimmed, ".", 2)
	nameAndValues := assignmentRE.Split(sectionAndPayload[1], 2)

	confMap.set(sectionAndPayload[0], nameAndValues[0], splitValues(nameAndValues[1]))

	return
}

// UpdateFromStrings applies UpdateFromString to each of confStrings in turn
func (confMap ConfMap) UpdateFromStrings(confStrings []string) (err error) {
	for _, confString := range confStrings {
		err = confMap.UpdateFromString(confString)
		if nil != err {
			return
		}
	}
	return
}

// UpdateFromFile modifies a pre-existing ConfMap based on the .INI style
// contents of confFilePath:
//
//   [<section_name>]
//   <option_name> = <value_0>, <value_1>   ; comment
//   # comment
//   .include <other .conf path>
//
func (confMap ConfMap) UpdateFromFile(confFilePath string) (err error) {
	var (
		confFile           *os.File
		currentSectionName string
		lineNumber         int
	)

	confFile, err = os.Open(confFilePath)
	if nil != err {
		return
	}
	defer confFile.Close()

	scanner := bufio.NewScanner(confFile)
	for scanner.Scan() {
		lineNumber++

		line := scanner.Text()
		line = strings.SplitN(line, ";", 2)[0]
		line = strings.SplitN(line, "#", 2)[0]
		line = strings.Trim(line, " \t")
		if 0 == len(line) {
			continue
		}

		switch {
		case includeLineRE.MatchString(line):
			nestedConfFilePath := strings.Trim(strings.TrimPrefix(line, ".include"), " \t")
			if !filepath.IsAbs(nestedConfFilePath) {
				nestedConfFilePath = filepath.Join(filepath.Dir(confFilePath), nestedConfFilePath)
			}
			err = confMap.UpdateFromFile(nestedConfFilePath)
			if nil != err {
				return
			}
			currentSectionName = ""
		case sectionHeaderLineRE.MatchString(line):
			currentSectionName = strings.Trim(line, "[]")
		default:
			if "" == currentSectionName {
				err = fmt.Errorf("file %v line %v: option outside of any section", confFilePath, lineNumber)
				return
			}
			if !optionLineRE.MatchString(line) {
				err = fmt.Errorf("file %v line %v: malformed line '%v'", confFilePath, lineNumber, line)
				return
			}
			nameAndValues := assignmentRE.Split(line, 2)
			confMap.set(currentSectionName, nameAndValues[0], splitValues(nameAndValues[1]))
		}
	}

	err = scanner.Err()
	return
}

// FetchOptionValueStringSlice returns [sectionName]optionName's string values
func (confMap ConfMap) FetchOptionValueStringSlice(sectionName string, optionName string) (optionValue []string, err error) {
	optionValue = []string{}

	section, ok := confMap[sectionName]
	if !ok {
		err = fmt.Errorf("[%v] missing", sectionName)
		return
	}

	option, ok := section[optionName]
	if !ok {
		err = fmt.Errorf("[%v]%v missing", sectionName, optionName)
		return
	}

	optionValue = option
	return
}

// FetchOptionValueString returns [sectionName]optionName's single string value
func (confMap ConfMap) FetchOptionValueString(sectionName string, optionName string) (optionValue string, err error) {
	optionValueSlice, err := confMap.FetchOptionValueStringSlice(sectionName, optionName)
	if nil != err {
		return
	}

	if 1 != len(optionValueSlice) {
		err = fmt.Errorf("[%v]%v must be single-valued", sectionName, optionName)
		return
	}

	optionValue = optionValueSlice[0]
	return
}

// FetchOptionValueBool returns [sectionName]optionName's single string value converted to a bool
func (confMap ConfMap) FetchOptionValueBool(sectionName string, optionName string) (optionValue bool, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	switch strings.ToLower(optionValueString) {
	case "yes", "on", "true":
		optionValue = true
	case "no", "off", "false":
		optionValue = false
	default:
		err = fmt.Errorf("Couldn't interpret %q as boolean (expected one of 'true'/'false'/'yes'/'no'/'on'/'off')", optionValueString)
	}
	return
}

// FetchOptionValueUint32 returns [sectionName]optionName's single string value converted to a uint32
func (confMap ConfMap) FetchOptionValueUint32(sectionName string, optionName string) (optionValue uint32, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValueUint64, err := strconv.ParseUint(optionValueString, 0, 32)
	if nil != err {
		return
	}

	optionValue = uint32(optionValueUint64)
	return
}

// FetchOptionValueUint64 returns [sectionName]optionName's single string value converted to a uint64
func (confMap ConfMap) FetchOptionValueUint64(sectionName string, optionName string) (optionValue uint64, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseUint(optionValueString, 0, 64)
	return
}

// FetchOptionValueDuration returns [sectionName]optionName's single string value converted to a time.Duration
func (confMap ConfMap) FetchOptionValueDuration(sectionName string, optionName string) (optionValue time.Duration, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = time.ParseDuration(optionValueString)
	if nil != err {
		return
	}

	if 0 > optionValue {
		err = fmt.Errorf("[%v]%v is negative", sectionName, optionName)
	}
	return
}
